package parsers

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/pkg/errors"
)

// amountField accepts an amount written either as a JSON number or a string
type amountField string

func (a *amountField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = amountField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = amountField(n.String())
	return nil
}

// rawDocument is the extraction output as written upstream
type rawDocument struct {
	InvoiceNumber string        `json:"invoice_number" validate:"required"`
	InvoiceDate   string        `json:"invoice_date" validate:"required"`
	Total         amountField   `json:"total"`
	FreightAmount amountField   `json:"freight_amount"`
	LineItems     []rawLineItem `json:"line_items" validate:"required,min=1,dive"`
}

type rawLineItem struct {
	Code             string      `json:"narda" validate:"required"`
	Amount           amountField `json:"amount" validate:"required"`
	PartNumber       string      `json:"part_number"`
	BillNumber       string      `json:"bill_number"`
	SalesOrderNumber string      `json:"sales_order_number"`
	Description      string      `json:"description"`
}

var validate = validator.New()

// maxIssues caps how many problems one rejected document reports
const maxIssues = 20

// decodeDocument turns one extraction file body into a credit document
func decodeDocument(path string, data []byte) (*models.CreditDocument, error) {
	var raw rawDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, "document", "", err).
			WithSuggestion("Check that the file is a single JSON extraction document")
	}

	raw.InvoiceNumber = strings.TrimSpace(raw.InvoiceNumber)
	raw.InvoiceDate = strings.TrimSpace(raw.InvoiceDate)
	for i := range raw.LineItems {
		raw.LineItems[i].Code = strings.TrimSpace(raw.LineItems[i].Code)
	}
	if err := validate.Struct(raw); err != nil {
		return nil, validationFailure(path, err)
	}

	date, err := models.ParseTimeWithFormats(raw.InvoiceDate)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidDate, path, "invoice_date", raw.InvoiceDate, err)
	}

	total, err := optionalAmount(path, "total", raw.Total)
	if err != nil {
		return nil, err
	}
	freight, err := optionalAmount(path, "freight_amount", raw.FreightAmount)
	if err != nil {
		return nil, err
	}

	doc := &models.CreditDocument{
		InvoiceNumber: raw.InvoiceNumber,
		InvoiceDate:   date,
		Total:         total,
		FreightAmount: freight,
		LineItems:     make([]models.LineItem, 0, len(raw.LineItems)),
		SourcePath:    path,
	}

	issues := errors.NewIssueCollector(path, maxIssues)
	for i, rl := range raw.LineItems {
		amount, err := models.ParseDecimalFromString(string(rl.Amount))
		if err != nil {
			issues.Add(fmt.Sprintf("line_items[%d].amount", i), string(rl.Amount), "a decimal amount")
			continue
		}
		item := models.NewLineItem(rl.Code, amount, rl.PartNumber, rl.BillNumber)
		item.SalesOrderNumber = strings.TrimSpace(rl.SalesOrderNumber)
		item.Description = strings.TrimSpace(rl.Description)
		doc.LineItems = append(doc.LineItems, item)
	}
	if err := issues.Err(errors.CodeInvalidAmount, "invalid line item amounts"); err != nil {
		return nil, err
	}

	return doc, nil
}

func optionalAmount(path, field string, value amountField) (decimal.Decimal, error) {
	if strings.TrimSpace(string(value)) == "" {
		return decimal.Zero, nil
	}
	d, err := models.ParseDecimalFromString(string(value))
	if err != nil {
		return decimal.Zero, errors.ParseError(errors.CodeInvalidAmount, path, field, string(value), err)
	}
	return d.Abs(), nil
}

// validationFailure reports every failed validator rule of the document at once
func validationFailure(path string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.ParseError(errors.CodeInvalidData, path, "document", "", err)
	}
	issues := errors.NewIssueCollector(path, maxIssues)
	for _, fe := range fieldErrs {
		issues.Add(jsonField(fe.Namespace()), fmt.Sprint(fe.Value()), ruleDescription(fe.Tag(), fe.Param()))
	}
	return issues.Err(errors.CodeMissingField, "missing or empty required fields")
}

// jsonField turns a validator namespace such as rawDocument.LineItems[0].Code
// into the field name used in the extraction file
func jsonField(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		namespace = namespace[i+1:]
	}
	return jsonFieldReplacer.Replace(namespace)
}

var jsonFieldReplacer = strings.NewReplacer(
	"InvoiceNumber", "invoice_number",
	"InvoiceDate", "invoice_date",
	"LineItems", "line_items",
	"Code", "narda",
	"Amount", "amount",
)

func ruleDescription(tag, param string) string {
	switch tag {
	case "required":
		return "a value"
	case "min":
		return fmt.Sprintf("at least %s entries", param)
	default:
		return tag
	}
}
