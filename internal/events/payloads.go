package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/money"
)

// Payload is the closed set of typed v1 event payloads. Decoding an untyped
// payload into its variant fails closed: a missing required field or a type
// mismatch rejects the whole envelope.
type Payload interface {
	eventType() Type
}

// flexInt accepts a JSON number or a numeric string. Upstream serializers
// are inconsistent about quoting ids and quantities.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %s", data)
	}
	*f = flexInt(v)
	return nil
}

// flexString accepts a JSON string or a number; order ids arrive as both.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// OrderItem is a normalized order line.
type OrderItem struct {
	ProductID int64
	Quantity  int64
	UnitPrice money.Cents
}

// OrderCreated carries the order header plus its normalized line items.
// Items that were present on the wire but missing a required field are
// dropped individually and counted in SkippedItems; they never fail the
// whole event.
type OrderCreated struct {
	OrderID      string
	UserID       string
	Items        []OrderItem
	SkippedItems int
	Total        money.Cents
	Status       string
}

func (OrderCreated) eventType() Type { return TypeOrderCreated }

type orderItemWire struct {
	ProductID *flexInt `json:"product_id"`
	Product   *struct {
		ID *flexInt `json:"id"`
	} `json:"product"`
	Quantity  *flexInt     `json:"quantity"`
	Qty       *flexInt     `json:"qty"`
	UnitPrice *money.Cents `json:"unit_price"`
	Price     *money.Cents `json:"price"`
}

// normalize resolves the alternate field names the upstream uses for line
// items (product_id|product.id, quantity|qty, unit_price|price) and reports
// whether every required field was present and usable.
func (w orderItemWire) normalize() (OrderItem, bool) {
	var item OrderItem

	switch {
	case w.ProductID != nil:
		item.ProductID = int64(*w.ProductID)
	case w.Product != nil && w.Product.ID != nil:
		item.ProductID = int64(*w.Product.ID)
	default:
		return OrderItem{}, false
	}

	switch {
	case w.Quantity != nil:
		item.Quantity = int64(*w.Quantity)
	case w.Qty != nil:
		item.Quantity = int64(*w.Qty)
	default:
		return OrderItem{}, false
	}

	switch {
	case w.UnitPrice != nil:
		item.UnitPrice = *w.UnitPrice
	case w.Price != nil:
		item.UnitPrice = *w.Price
	default:
		return OrderItem{}, false
	}

	if item.ProductID <= 0 || item.Quantity <= 0 || item.UnitPrice < 0 {
		return OrderItem{}, false
	}
	return item, true
}

func decodeOrderCreated(raw json.RawMessage) (Payload, error) {
	var w struct {
		OrderID *flexString     `json:"order_id"`
		UserID  *string         `json:"user_id"`
		Items   *[]orderItemWire `json:"items"`
		Total   *money.Cents    `json:"total"`
		Status  *string         `json:"status"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.OrderID == nil:
		return nil, fmt.Errorf("missing order_id")
	case w.UserID == nil:
		return nil, fmt.Errorf("missing user_id")
	case w.Items == nil:
		return nil, fmt.Errorf("missing items")
	case w.Total == nil:
		return nil, fmt.Errorf("missing total")
	case w.Status == nil:
		return nil, fmt.Errorf("missing status")
	}

	p := &OrderCreated{
		OrderID: string(*w.OrderID),
		UserID:  *w.UserID,
		Total:   *w.Total,
		Status:  *w.Status,
	}
	for _, iw := range *w.Items {
		item, ok := iw.normalize()
		if !ok {
			p.SkippedItems++
			continue
		}
		p.Items = append(p.Items, item)
	}
	return p, nil
}

// PaymentApproved confirms a payment for an order. Observability-only in
// this contract version; no durable mutation.
type PaymentApproved struct {
	PaymentID string
	OrderID   string
	Amount    money.Cents
	Method    string
}

func (PaymentApproved) eventType() Type { return TypePaymentApproved }

func decodePaymentApproved(raw json.RawMessage) (Payload, error) {
	var w struct {
		PaymentID *string      `json:"payment_id"`
		OrderID   *flexString  `json:"order_id"`
		Amount    *money.Cents `json:"amount"`
		Method    *string      `json:"method"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.PaymentID == nil:
		return nil, fmt.Errorf("missing payment_id")
	case w.OrderID == nil:
		return nil, fmt.Errorf("missing order_id")
	case w.Amount == nil:
		return nil, fmt.Errorf("missing amount")
	case w.Method == nil:
		return nil, fmt.Errorf("missing method")
	}
	return &PaymentApproved{
		PaymentID: *w.PaymentID,
		OrderID:   string(*w.OrderID),
		Amount:    *w.Amount,
		Method:    *w.Method,
	}, nil
}

// ProductCreated carries the catalog attributes cached per product.
type ProductCreated struct {
	ProductID      int64
	Name           string
	Price          money.Cents
	Stock          int64
	CategoryID     int64
	ManufacturerID int64
	UniverseID     int64
}

func (ProductCreated) eventType() Type { return TypeProductCreated }

func decodeProductCreated(raw json.RawMessage) (Payload, error) {
	var w struct {
		ProductID      *flexInt     `json:"product_id"`
		Name           *string      `json:"name"`
		Price          *money.Cents `json:"price"`
		Stock          *flexInt     `json:"stock"`
		CategoryID     *flexInt     `json:"category_id"`
		ManufacturerID *flexInt     `json:"manufacturer_id"`
		UniverseID     *flexInt     `json:"universe_id"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.ProductID == nil:
		return nil, fmt.Errorf("missing product_id")
	case w.Name == nil:
		return nil, fmt.Errorf("missing name")
	case w.Price == nil:
		return nil, fmt.Errorf("missing price")
	case w.Stock == nil:
		return nil, fmt.Errorf("missing stock")
	case w.CategoryID == nil:
		return nil, fmt.Errorf("missing category_id")
	case w.ManufacturerID == nil:
		return nil, fmt.Errorf("missing manufacturer_id")
	case w.UniverseID == nil:
		return nil, fmt.Errorf("missing universe_id")
	}
	return &ProductCreated{
		ProductID:      int64(*w.ProductID),
		Name:           *w.Name,
		Price:          *w.Price,
		Stock:          int64(*w.Stock),
		CategoryID:     int64(*w.CategoryID),
		ManufacturerID: int64(*w.ManufacturerID),
		UniverseID:     int64(*w.UniverseID),
	}, nil
}

// ProductUpdated invalidates the cached product and names the changed fields.
type ProductUpdated struct {
	ProductID int64
	Changes   map[string]json.RawMessage
}

func (ProductUpdated) eventType() Type { return TypeProductUpdated }

func decodeProductUpdated(raw json.RawMessage) (Payload, error) {
	var w struct {
		ProductID *flexInt                   `json:"product_id"`
		Changes   map[string]json.RawMessage `json:"changes"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.ProductID == nil {
		return nil, fmt.Errorf("missing product_id")
	}
	changes := w.Changes
	if changes == nil {
		changes = map[string]json.RawMessage{}
	}
	return &ProductUpdated{ProductID: int64(*w.ProductID), Changes: changes}, nil
}

// UserAuthenticated records a login on the upstream core service.
type UserAuthenticated struct {
	UserID string
	Email  string
	Role   string
}

func (UserAuthenticated) eventType() Type { return TypeUserAuthenticated }

func decodeUserAuthenticated(raw json.RawMessage) (Payload, error) {
	var w struct {
		UserID *string `json:"user_id"`
		Email  *string `json:"email"`
		Role   *string `json:"role"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.UserID == nil:
		return nil, fmt.Errorf("missing user_id")
	case w.Email == nil:
		return nil, fmt.Errorf("missing email")
	case w.Role == nil:
		return nil, fmt.Errorf("missing role")
	}
	return &UserAuthenticated{UserID: *w.UserID, Email: *w.Email, Role: *w.Role}, nil
}

// UserRegistered records a new account; the profile block is optional.
type UserRegistered struct {
	UserID  string
	Email   string
	Role    string
	Profile map[string]json.RawMessage
}

func (UserRegistered) eventType() Type { return TypeUserRegistered }

func decodeUserRegistered(raw json.RawMessage) (Payload, error) {
	var w struct {
		UserID  *string                    `json:"user_id"`
		Email   *string                    `json:"email"`
		Role    *string                    `json:"role"`
		Profile map[string]json.RawMessage `json:"profile"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.UserID == nil:
		return nil, fmt.Errorf("missing user_id")
	case w.Email == nil:
		return nil, fmt.Errorf("missing email")
	case w.Role == nil:
		return nil, fmt.Errorf("missing role")
	}
	return &UserRegistered{UserID: *w.UserID, Email: *w.Email, Role: *w.Role, Profile: w.Profile}, nil
}

// InvoiceIssued mirrors the upstream billing event.
type InvoiceIssued struct {
	InvoiceID string
	OrderID   string
	Total     money.Cents
	Method    string
}

func (InvoiceIssued) eventType() Type { return TypeInvoiceIssued }

func decodeInvoiceIssued(raw json.RawMessage) (Payload, error) {
	var w struct {
		InvoiceID *string      `json:"invoice_id"`
		OrderID   *flexString  `json:"order_id"`
		Total     *money.Cents `json:"total"`
		Method    *string      `json:"method"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.InvoiceID == nil:
		return nil, fmt.Errorf("missing invoice_id")
	case w.OrderID == nil:
		return nil, fmt.Errorf("missing order_id")
	case w.Total == nil:
		return nil, fmt.Errorf("missing total")
	case w.Method == nil:
		return nil, fmt.Errorf("missing method")
	}
	return &InvoiceIssued{
		InvoiceID: *w.InvoiceID,
		OrderID:   string(*w.OrderID),
		Total:     *w.Total,
		Method:    *w.Method,
	}, nil
}

// ShipmentCreated mirrors the upstream fulfillment event.
type ShipmentCreated struct {
	ShipmentID string
	OrderID    string
	Address    string
	Status     string
}

func (ShipmentCreated) eventType() Type { return TypeShipmentCreated }

func decodeShipmentCreated(raw json.RawMessage) (Payload, error) {
	var w struct {
		ShipmentID *string     `json:"shipment_id"`
		OrderID    *flexString `json:"order_id"`
		Address    *string     `json:"address"`
		Status     *string     `json:"status"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.ShipmentID == nil:
		return nil, fmt.Errorf("missing shipment_id")
	case w.OrderID == nil:
		return nil, fmt.Errorf("missing order_id")
	case w.Address == nil:
		return nil, fmt.Errorf("missing address")
	case w.Status == nil:
		return nil, fmt.Errorf("missing status")
	}
	return &ShipmentCreated{
		ShipmentID: *w.ShipmentID,
		OrderID:    string(*w.OrderID),
		Address:    *w.Address,
		Status:     *w.Status,
	}, nil
}

// DiscountApplied mirrors the upstream promotion event.
type DiscountApplied struct {
	OrderID string
	Code    string
	Value   money.Cents
}

func (DiscountApplied) eventType() Type { return TypeDiscountApplied }

func decodeDiscountApplied(raw json.RawMessage) (Payload, error) {
	var w struct {
		OrderID *flexString  `json:"order_id"`
		Code    *string      `json:"code"`
		Value   *money.Cents `json:"value"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.OrderID == nil:
		return nil, fmt.Errorf("missing order_id")
	case w.Code == nil:
		return nil, fmt.Errorf("missing code")
	case w.Value == nil:
		return nil, fmt.Errorf("missing value")
	}
	return &DiscountApplied{OrderID: string(*w.OrderID), Code: *w.Code, Value: *w.Value}, nil
}

// CompanySettingsUpdated carries the before/after settings documents.
type CompanySettingsUpdated struct {
	Before map[string]json.RawMessage
	After  map[string]json.RawMessage
}

func (CompanySettingsUpdated) eventType() Type { return TypeCompanySettingsUpdated }

func decodeCompanySettingsUpdated(raw json.RawMessage) (Payload, error) {
	var w struct {
		Before map[string]json.RawMessage `json:"before"`
		After  map[string]json.RawMessage `json:"after"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.Before == nil {
		return nil, fmt.Errorf("missing before")
	}
	if w.After == nil {
		return nil, fmt.Errorf("missing after")
	}
	return &CompanySettingsUpdated{Before: w.Before, After: w.After}, nil
}
