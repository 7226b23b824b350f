package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/conceptdash/api/internal/domain"
	pfirestore "github.com/conceptdash/api/internal/platform/firestore"
	"github.com/conceptdash/api/internal/platform/pagination"
	"github.com/conceptdash/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists the order ledger. Status transitions run inside a
// Firestore transaction so concurrent reconciliation attempts resolve to a
// single winner.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert stores a new order. The ID must be unique; a duplicate insert yields
// a conflict error.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.CorrelationHandle) == "" {
		return errors.New("order repository: correlation handle is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// FindByNumber fetches an order by its public order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOneBy(ctx, "orderNumber", strings.TrimSpace(orderNumber), "orders.find_by_number")
}

// FindByCorrelationHandle fetches the order created for a provider handle.
func (r *OrderRepository) FindByCorrelationHandle(ctx context.Context, handle string) (domain.Order, error) {
	return r.findOneBy(ctx, "correlationHandle", strings.TrimSpace(handle), "orders.find_by_handle")
}

func (r *OrderRepository) findOneBy(ctx context.Context, field, value, op string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if value == "" {
		return domain.Order{}, fmt.Errorf("order repository: %s is required", field)
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError(op, status.Error(codes.NotFound, "order not found"))
	}
	return decodeOrderDocument(docs[0].ID, docs[0].Data), nil
}

// ListByUser returns the user's orders ordered by most recent first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		trimmed := strings.ToLower(strings.TrimSpace(string(s)))
		if trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userUid", "==", userID)

		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statuses) > 10 {
				statuses = statuses[:10]
			}
			q = q.Where("status", "in", statuses)
		}

		if filter.Rail != nil {
			q = q.Where("rail", "==", string(*filter.Rail))
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeOrderListToken(last.Data.CreatedAt, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Transition applies a compare-and-set status change inside a transaction.
// The stored status must still equal change.From and must not already be
// payment-terminal; otherwise the call fails with a conflict carrying the
// stored order.
func (r *OrderRepository) Transition(ctx context.Context, orderID string, change repositories.OrderTransition) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if change.To == "" {
		return domain.Order{}, errors.New("order repository: target status is required")
	}

	now := change.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}

		current := domain.OrderStatus(doc.Status)
		if current != change.From || (current.PaymentTerminal() && !change.From.PaymentTerminal()) {
			updated = decodeOrderDocument(orderID, doc)
			return status.Errorf(codes.FailedPrecondition, "order %s is %s, expected %s", orderID, current, change.From)
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(change.To)},
			{Path: "updatedAt", Value: now},
		}
		if change.ProviderReceipt != "" {
			updates = append(updates, firestore.Update{Path: "providerReceipt", Value: change.ProviderReceipt})
		}
		if change.FailureReason != "" {
			updates = append(updates, firestore.Update{Path: "failureReason", Value: change.FailureReason})
		}
		if change.To == domain.OrderStatusPaid {
			updates = append(updates, firestore.Update{Path: "confirmedAt", Value: now})
		}

		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		updated = decodeOrderDocument(orderID, doc)
		updated.Status = change.To
		updated.UpdatedAt = now
		if change.ProviderReceipt != "" {
			updated.ProviderReceipt = change.ProviderReceipt
		}
		if change.FailureReason != "" {
			updated.FailureReason = change.FailureReason
		}
		if change.To == domain.OrderStatusPaid {
			confirmed := now
			updated.ConfirmedAt = &confirmed
		}
		return nil
	})
	if err != nil {
		return updated, pfirestore.WrapError("orders.transition", err)
	}
	return updated, nil
}

type orderDocument struct {
	OrderNumber       string              `firestore:"orderNumber"`
	UserUID           string              `firestore:"userUid"`
	Status            string              `firestore:"status"`
	Rail              string              `firestore:"rail"`
	CorrelationHandle string              `firestore:"correlationHandle"`
	Currency          string              `firestore:"currency"`
	Subtotal          int64               `firestore:"subtotal"`
	Discount          int64               `firestore:"discount"`
	Total             int64               `firestore:"total"`
	Customer          orderCustomerDoc    `firestore:"customer"`
	Address           *orderAddressDoc    `firestore:"address,omitempty"`
	Items             []orderLineItemDoc  `firestore:"items"`
	ProviderReceipt   string              `firestore:"providerReceipt,omitempty"`
	FailureReason     string              `firestore:"failureReason,omitempty"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	ConfirmedAt       *time.Time          `firestore:"confirmedAt,omitempty"`
}

type orderCustomerDoc struct {
	ID    string `firestore:"id,omitempty"`
	Name  string `firestore:"name,omitempty"`
	Email string `firestore:"email,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

type orderAddressDoc struct {
	Name       string `firestore:"name,omitempty"`
	Line1      string `firestore:"line1"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
}

type orderLineItemDoc struct {
	ProductRef string `firestore:"productRef"`
	Name       string `firestore:"name"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int    `firestore:"quantity"`
	Total      int64  `firestore:"total"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:       order.OrderNumber,
		UserUID:           order.UserID,
		Status:            string(order.Status),
		Rail:              string(order.Rail),
		CorrelationHandle: order.CorrelationHandle,
		Currency:          order.Currency,
		Subtotal:          order.Totals.Subtotal,
		Discount:          order.Totals.Discount,
		Total:             order.Totals.Total,
		Customer: orderCustomerDoc{
			ID:    order.Customer.ID,
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		ProviderReceipt: order.ProviderReceipt,
		FailureReason:   order.FailureReason,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.Address != nil {
		doc.Address = &orderAddressDoc{
			Name:       order.Address.Name,
			Line1:      order.Address.Line1,
			City:       order.Address.City,
			State:      order.Address.State,
			PostalCode: order.Address.PostalCode,
			Country:    order.Address.Country,
		}
	}
	if order.ConfirmedAt != nil {
		confirmed := order.ConfirmedAt.UTC()
		doc.ConfirmedAt = &confirmed
	}
	doc.Items = make([]orderLineItemDoc, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderLineItemDoc{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Total:      item.Total,
		})
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:                id,
		OrderNumber:       doc.OrderNumber,
		UserID:            doc.UserUID,
		Status:            domain.OrderStatus(doc.Status),
		Rail:              domain.PaymentRail(doc.Rail),
		CorrelationHandle: doc.CorrelationHandle,
		Currency:          doc.Currency,
		Totals: domain.OrderTotals{
			Subtotal: doc.Subtotal,
			Discount: doc.Discount,
			Total:    doc.Total,
		},
		Customer: domain.Customer{
			ID:    doc.Customer.ID,
			Name:  doc.Customer.Name,
			Email: doc.Customer.Email,
			Phone: doc.Customer.Phone,
		},
		ProviderReceipt: doc.ProviderReceipt,
		FailureReason:   doc.FailureReason,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		ConfirmedAt:     doc.ConfirmedAt,
	}
	if doc.Address != nil {
		order.Address = &domain.Address{
			Name:       doc.Address.Name,
			Line1:      doc.Address.Line1,
			City:       doc.Address.City,
			State:      doc.Address.State,
			PostalCode: doc.Address.PostalCode,
			Country:    doc.Address.Country,
		}
	}
	order.Items = make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderLineItem{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Total:      item.Total,
		})
	}
	return order
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	rawTime, timeOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !timeOK || !idOK {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}
