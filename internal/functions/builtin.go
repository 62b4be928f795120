package functions

import (
	"time"

	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

// Function names. They are the dispatch keys and match Function.Name rows.
const (
	GetDateOfNow                = "getDateOfNow"
	NotifyHuman                 = "notifyHuman"
	GetDocument                 = "getDocument"
	GetSection                  = "getSection"
	GetProductByCode            = "getProductByCode"
	GetProductByRanking         = "getProductByRanking"
	GetProductsByCategoryName   = "getProductsByCategoryName"
	GetProductsByName           = "getProductsByName"
	GetClientByCode             = "getClientByCode"
	GetClientsByName            = "getClientsByName"
	GetClientsByDepartamento    = "getClientsByDepartamento"
	GetClientsByLocalidad       = "getClientsByLocalidad"
	InsertLead                  = "insertLead"
	AddItemToOrder              = "addItemToOrder"
	AddBulkItemsToOrder         = "addBulkItemsToOrder"
	RemoveItemFromOrder         = "removeItemFromOrder"
	ChangeQuantityOfItemInOrder = "changeQuantityOfItemInOrder"
	ConfirmOrder                = "confirmOrder"
	CancelOrder                 = "cancelOrder"
)

// DocumentFunctions enable the document catalog in the prompt.
var DocumentFunctions = []string{GetDocument, GetSection}

// OrderFunctions enable the customer and orders section of the prompt.
var OrderFunctions = []string{
	AddItemToOrder, AddBulkItemsToOrder, RemoveItemFromOrder,
	ChangeQuantityOfItemInOrder, ConfirmOrder, CancelOrder,
}

// LeadFunctions enable the conversation id and the lead hint in the prompt.
var LeadFunctions = []string{InsertLead}

// Deps are the stores the built-in handlers run against. Similarity may be
// nil, in which case name lookups find nothing.
type Deps struct {
	Products   Products
	Clients    Clients
	Similarity Similarity
	Orders     Orders
	Leads      Leads
	Documents  Documents
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewDefaultRegistry registers every built-in function.
func NewDefaultRegistry(deps Deps, log *logger.Logger) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	catalog := &catalogHandlers{products: deps.Products, clients: deps.Clients, similarity: deps.Similarity}
	orders := &orderHandlers{orders: deps.Orders}
	content := &contentHandlers{documents: deps.Documents, leads: deps.Leads, now: deps.Now}

	r := NewRegistry(log)
	r.Register(
		Definition{Name: GetDateOfNow, Handler: content.dateOfNow, Quiet: true},
		Definition{Name: NotifyHuman, Handler: content.notifyHuman, Quiet: true, HumanHandoff: true},
		Definition{Name: GetDocument, Handler: content.document, FailureMessage: "Document not found"},
		Definition{Name: GetSection, Handler: content.section, FailureMessage: "Section not found"},
		Definition{Name: InsertLead, Handler: content.insertLead, FailureMessage: "Hubo un error al insertar el lead", Lead: true},

		Definition{Name: GetProductByCode, Handler: catalog.productByCode, FailureMessage: productNotFound},
		Definition{Name: GetProductByRanking, Handler: catalog.productByRanking, FailureMessage: productNotFound},
		Definition{Name: GetProductsByCategoryName, Handler: catalog.productsByCategory, FailureMessage: productsNotFound},
		Definition{Name: GetProductsByName, Handler: catalog.productsByName, FailureMessage: productsNotFound},
		Definition{Name: GetClientByCode, Handler: catalog.clientByCode, FailureMessage: clientNotFound},
		Definition{Name: GetClientsByName, Handler: catalog.clientsByName, FailureMessage: clientsNotFound},
		Definition{Name: GetClientsByDepartamento, Handler: catalog.clientsByDepartamento, FailureMessage: clientsNotFound},
		Definition{Name: GetClientsByLocalidad, Handler: catalog.clientsByLocalidad, FailureMessage: clientsNotFound},

		Definition{Name: AddItemToOrder, Handler: orders.addItem, FailureMessage: "Error al agregar el producto a la orden"},
		Definition{Name: AddBulkItemsToOrder, Handler: orders.addBulkItems, FailureMessage: "Error al agregar los productos a la orden"},
		Definition{Name: RemoveItemFromOrder, Handler: orders.removeItem, FailureMessage: "Error al eliminar el item de la orden"},
		Definition{Name: ChangeQuantityOfItemInOrder, Handler: orders.changeQuantity, FailureMessage: "Error al cambiar la cantidad del item de la orden"},
		Definition{Name: ConfirmOrder, Handler: orders.confirm, FailureMessage: "Error al confirmar la orden", Quiet: true, Order: true},
		Definition{Name: CancelOrder, Handler: orders.cancel, FailureMessage: "Error al cancelar la orden", Quiet: true},
	)
	return r
}
