package functions

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/capitalize-ai/commerce-agent/internal/apperror"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
)

// HumanHandoffReply instructs the model to close the conversation after a
// handoff to a human agent.
const HumanHandoffReply = "dile al usuario que un agente se va a comunicar con él, saluda y finaliza la conversación. No ofrezcas más ayuda, saluda y listo."

// Documents reads the tenant's reference documents.
type Documents interface {
	Get(ctx context.Context, tenantID, id string) (*model.Document, error)
	Section(ctx context.Context, tenantID, documentID string, seq int) (*model.Section, error)
}

// Leads stores captured leads.
type Leads interface {
	Create(ctx context.Context, l *model.Lead) error
}

type documentResult struct {
	ID          string `json:"docId"`
	Name        string `json:"docName"`
	URL         string `json:"docURL"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

type sectionResult struct {
	DocumentID   string `json:"docId"`
	DocumentName string `json:"docName"`
	Sequence     string `json:"secuence"`
	Content      string `json:"content"`
}

type contentHandlers struct {
	documents Documents
	leads     Leads
	now       func() time.Time
}

// dateOfNow renders the current time the way es-UY does.
func (h *contentHandlers) dateOfNow(_ context.Context, call Call) (string, error) {
	return h.now().In(call.Location).Format("02/01/2006, 15:04:05"), nil
}

func (h *contentHandlers) notifyHuman(context.Context, Call) (string, error) {
	return HumanHandoffReply, nil
}

func (h *contentHandlers) document(ctx context.Context, call Call) (string, error) {
	id := call.Args.String("docId")
	if id == "" {
		return "Document not found", nil
	}
	d, err := h.documents.Get(ctx, call.TenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return "Document not found", nil
	}
	if err != nil {
		return "", err
	}
	return encode(documentResult{
		ID:          d.ID,
		Name:        d.Name,
		URL:         d.URL,
		Description: d.Description,
		Content:     d.Content,
	})
}

func (h *contentHandlers) section(ctx context.Context, call Call) (string, error) {
	id := call.Args.String("docId")
	seq, ok := call.Args.Int("secuence")
	if id == "" || !ok {
		return "Section not found", nil
	}
	d, err := h.documents.Get(ctx, call.TenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return "Section not found", nil
	}
	if err != nil {
		return "", err
	}
	s, err := h.documents.Section(ctx, call.TenantID, id, seq)
	if errors.Is(err, repository.ErrNotFound) {
		return "Section not found", nil
	}
	if err != nil {
		return "", err
	}
	return encode(sectionResult{
		DocumentID:   d.ID,
		DocumentName: d.Name,
		Sequence:     strconv.Itoa(seq),
		Content:      s.Text,
	})
}

func (h *contentHandlers) insertLead(ctx context.Context, call Call) (string, error) {
	lead := &model.Lead{
		TenantID:       call.TenantID,
		ConversationID: call.Args.String(ConversationIDArg),
		Name:           call.Args.String("name"),
		CompanyName:    call.Args.String("companyName"),
		RutOrCI:        call.Args.String("rutOrCI"),
		Phone:          call.Args.String("phone"),
		Address:        call.Args.String("address"),
	}
	if lead.Name == "" || lead.RutOrCI == "" || lead.Phone == "" || lead.Address == "" || lead.ConversationID == "" {
		return "Error al insertar, name, rutOrCI, phone, address y conversationId son obligatorios", nil
	}
	// the id in the prompt belongs to this turn's conversation
	if call.ConversationID != "" && lead.ConversationID != call.ConversationID {
		return "", apperror.New("El conversationId no corresponde a esta conversación")
	}

	err := h.leads.Create(ctx, lead)
	if errors.Is(err, repository.ErrDuplicate) {
		return "", apperror.New("El lead de esta conversación ya fue registrado")
	}
	if err != nil {
		return "", err
	}
	return "Lead insertado correctamente", nil
}
