package models

// StockState describes what the availability text on a page told us.
type StockState string

const (
	// StockCounted means an explicit quantity was found on the page.
	StockCounted StockState = "count"
	// StockInStock means the page says the item is in stock without a quantity.
	StockInStock StockState = "in_stock"
	// StockOutOfStock means the page says the item cannot be bought.
	StockOutOfStock StockState = "out_of_stock"
)

// Record holds the fields extracted from one product page. Every field except
// URL and Site is optional and nil when the page did not provide it.
type Record struct {
	URL        string     `json:"url"`
	Site       string     `json:"site"`
	ItemNumber *string    `json:"itemNumber"`
	Title      *string    `json:"title"`
	Price      *float64   `json:"price"`
	StockCount *int       `json:"stockCount"`
	StockState StockState `json:"stockState,omitempty"`
	Location   *string    `json:"location,omitempty"`
}

// HasStock reports whether any availability information was extracted.
func (r *Record) HasStock() bool {
	return r.StockState != ""
}

// Outcome is the result of scraping a single target. Exactly one of Record
// and Err is set.
type Outcome struct {
	Target string
	Record *Record
	Err    error
}

func Success(target string, record *Record) Outcome {
	return Outcome{Target: target, Record: record}
}

func Failure(target string, err error) Outcome {
	return Outcome{Target: target, Err: err}
}

// Succeeded reports whether the outcome carries a record.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Record != nil
}

// Message returns the short human readable failure description.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func String(s string) *string {
	return &s
}

func Float(f float64) *float64 {
	return &f
}

func Int(i int) *int {
	return &i
}
