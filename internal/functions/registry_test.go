package functions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/commerce-agent/internal/apperror"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

func TestDispatch_UnknownFunction(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	out := r.Dispatch(context.Background(), Call{TenantID: "t1", Name: "doesNotExist"})

	assert.Equal(t, NotFound, out.Content)
	assert.False(t, out.Found)
	assert.Equal(t, Flags{}, out.Flags)
}

func TestDispatch_RelaysDomainErrors(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	r.Register(Definition{
		Name: "rejects",
		Handler: func(context.Context, Call) (string, error) {
			return "", apperror.New("La orden ya fue confirmada")
		},
		FailureMessage: "Error genérico",
	})

	out := r.Dispatch(context.Background(), Call{Name: "rejects"})

	assert.True(t, out.Found)
	assert.Equal(t, "La orden ya fue confirmada", out.Content)
}

func TestDispatch_MapsOtherErrorsToFailureMessage(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	r.Register(
		Definition{
			Name:           "explicit",
			Handler:        func(context.Context, Call) (string, error) { return "", errors.New("connection reset") },
			FailureMessage: "Error al agregar el producto a la orden",
		},
		Definition{
			Name:    "implicit",
			Handler: func(context.Context, Call) (string, error) { return "", errors.New("boom") },
		},
	)

	assert.Equal(t, "Error al agregar el producto a la orden",
		r.Dispatch(context.Background(), Call{Name: "explicit"}).Content)
	assert.Equal(t, "Error al ejecutar la función implicit",
		r.Dispatch(context.Background(), Call{Name: "implicit"}).Content)
}

func TestDispatch_FillsArgsAndLocation(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	var got Call
	r.Register(Definition{
		Name: "capture",
		Handler: func(_ context.Context, c Call) (string, error) {
			got = c
			return "ok", nil
		},
	})

	out := r.Dispatch(context.Background(), Call{Name: "capture"})

	require.Equal(t, "ok", out.Content)
	assert.NotNil(t, got.Args)
	assert.NotNil(t, got.Location)
}

func TestDispatch_FlagsFollowDefinitionEvenOnFailure(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	r.Register(Definition{
		Name:    "confirm",
		Handler: func(context.Context, Call) (string, error) { return "", errors.New("db down") },
		Order:   true,
		Quiet:   true,
	})

	out := r.Dispatch(context.Background(), Call{Name: "confirm"})

	assert.True(t, out.Flags.Order)
	assert.True(t, out.Quiet)
}

func TestDefaultRegistry_Classifiers(t *testing.T) {
	r := NewDefaultRegistry(Deps{}, logger.NewNop())

	assert.Len(t, r.Names(), 19)

	assert.True(t, r.TriggersHumanHandoff(NotifyHuman))
	assert.True(t, r.TriggersLead(InsertLead))
	assert.True(t, r.TriggersOrder(ConfirmOrder))

	for _, name := range r.Names() {
		if name != NotifyHuman {
			assert.False(t, r.TriggersHumanHandoff(name), name)
		}
		if name != InsertLead {
			assert.False(t, r.TriggersLead(name), name)
		}
		if name != ConfirmOrder {
			assert.False(t, r.TriggersOrder(name), name)
		}
	}

	quiet := map[string]bool{GetDateOfNow: true, NotifyHuman: true, ConfirmOrder: true, CancelOrder: true}
	for _, name := range r.Names() {
		assert.Equal(t, quiet[name], r.IsQuiet(name), name)
	}

	assert.False(t, r.TriggersOrder("unknown"))
	assert.False(t, r.IsQuiet("unknown"))

	for _, name := range []string{GetDateOfNow, NotifyHuman} {
		out := r.Dispatch(context.Background(), Call{Name: name})
		assert.Equal(t, r.IsQuiet(name), out.Quiet, name)
		assert.Equal(t, Flags{
			HumanHandoff: r.TriggersHumanHandoff(name),
			Lead:         r.TriggersLead(name),
			Order:        r.TriggersOrder(name),
		}, out.Flags, name)
	}
}

func TestFlags_Or(t *testing.T) {
	a := Flags{HumanHandoff: true}
	b := Flags{Order: true}

	assert.Equal(t, Flags{HumanHandoff: true, Order: true}, a.Or(b))
	assert.Equal(t, a, a.Or(Flags{}))
}
