// Package validate judges whether an extraction is trustworthy enough to
// persist: semantic checks on the required price field, anomaly warnings
// against the last known-good extraction, and an aggregate confidence
// verdict.
//
// Validation never returns a Go error. The outcome is always a structured
// Result; an invalid result is a normal, expected state of the pipeline, not
// a fault.
package validate

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"pricewatch/internal/extract"
)

// Config carries the validation thresholds. The price-change percentage and
// the per-warning confidence penalty came from the original tuning and are
// deliberately configuration, not constants: nothing validates that their
// current values are optimal.
type Config struct {
	// MinConfidence is the aggregate confidence below which an extraction
	// is rejected outright.
	MinConfidence float64 `json:"min_confidence"`

	// PriceChangePct flags a price move larger than this percentage of the
	// previous price.
	PriceChangePct float64 `json:"price_change_pct"`

	// WarningPenalty is subtracted from the aggregate confidence once per
	// recorded warning.
	WarningPenalty float64 `json:"warning_penalty"`

	// Sanity bounds: prices outside [MinReasonablePrice, MaxReasonablePrice]
	// draw a warning but stay valid.
	MaxReasonablePrice float64 `json:"max_reasonable_price"`
	MinReasonablePrice float64 `json:"min_reasonable_price"`

	// Title length bounds; the title is optional, so violations only warn.
	TitleMinLen int `json:"title_min_len"`
	TitleMaxLen int `json:"title_max_len"`
}

// DefaultConfig returns the thresholds used in production.
func DefaultConfig() Config {
	return Config{
		MinConfidence:      0.60,
		PriceChangePct:     50,
		WarningPenalty:     0.05,
		MaxReasonablePrice: 100000,
		MinReasonablePrice: 0.01,
		TitleMinLen:        3,
		TitleMaxLen:        500,
	}
}

// Result is the validation verdict for one extraction.
type Result struct {
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Validator applies Config to extraction results. The zero Config is not
// usable; construct with New.
type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate checks cur, optionally comparing against prev, the last
// successful extraction for the same domain. prev may be nil.
//
// Confidence is the unweighted mean of the declared confidence of every
// field that actually resolved, less the warning penalty per warning,
// floored at 0 and rounded to 2 decimals. Any hard error found before the
// threshold check forces confidence to 0. The threshold check runs last,
// against the final value.
func (v *Validator) Validate(cur, prev *extract.Result) Result {
	var res Result

	price := cur.Field("price")
	priceVal, priceOK := decimal.Decimal{}, false

	switch {
	case price.Absent():
		res.Errors = append(res.Errors, "Price not found")
	default:
		d, err := decimal.NewFromString(price.Value)
		if err != nil {
			res.Errors = append(res.Errors,
				fmt.Sprintf("Price %q is not a valid amount", price.Value))
		} else if d.Sign() <= 0 {
			res.Errors = append(res.Errors,
				fmt.Sprintf("Price %s must be positive", d))
		} else {
			priceVal, priceOK = d, true
		}
	}

	if priceOK {
		v.checkPriceBounds(priceVal, &res)
	}
	v.checkTitle(cur, &res)
	if prev != nil {
		v.compareWithPrevious(cur, prev, priceVal, priceOK, &res)
	}

	conf := v.confidence(cur, len(res.Warnings))
	if len(res.Errors) > 0 {
		conf = 0
	}
	if conf < v.cfg.MinConfidence {
		res.Errors = append(res.Errors, "Confidence below threshold")
	}

	res.Confidence = conf
	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) checkPriceBounds(price decimal.Decimal, res *Result) {
	if price.Cmp(decimal.NewFromFloat(v.cfg.MaxReasonablePrice)) > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Price %s is unusually high", price.StringFixed(2)))
	}
	if price.Cmp(decimal.NewFromFloat(v.cfg.MinReasonablePrice)) < 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Price %s is unusually low", price.StringFixed(2)))
	}
}

func (v *Validator) checkTitle(cur *extract.Result, res *Result) {
	title := cur.Field("title")
	if title.Absent() {
		return
	}
	if n := utf8.RuneCountInString(title.Value); n < v.cfg.TitleMinLen || n > v.cfg.TitleMaxLen {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Title length %d outside expected range [%d,%d]",
				n, v.cfg.TitleMinLen, v.cfg.TitleMaxLen))
	}
}

// compareWithPrevious flags suspicious changes against the last known-good
// extraction. Anomalies are warnings only: a real price drop looks exactly
// like a broken selector, and history must not block it.
func (v *Validator) compareWithPrevious(cur, prev *extract.Result, price decimal.Decimal, priceOK bool, res *Result) {
	prevPrice := prev.Field("price")
	if priceOK && !prevPrice.Absent() {
		if old, err := decimal.NewFromString(prevPrice.Value); err == nil && old.Sign() > 0 {
			pct := price.Sub(old).Abs().Div(old).Mul(decimal.NewFromInt(100))
			if pct.Cmp(decimal.NewFromFloat(v.cfg.PriceChangePct)) > 0 {
				f, _ := pct.Round(1).Float64()
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("Price changed from %s to %s (%.1f%%)",
						old.StringFixed(2), price.StringFixed(2), f))
			}
		}
	}

	curTitle, prevTitle := cur.Field("title"), prev.Field("title")
	if !curTitle.Absent() && !prevTitle.Absent() && curTitle.Value != prevTitle.Value {
		res.Warnings = append(res.Warnings, "Title changed since last extraction")
	}

	curAvail, prevAvail := available(cur), available(prev)
	if curAvail != prevAvail {
		state := "unavailable"
		if curAvail {
			state = "available"
		}
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Availability changed to %s", state))
	}
}

// Availability markers recognized in extracted availability text, including
// the schema.org item availability values surfaced by structured-data
// selectors ("https://schema.org/InStock" reduces to the "instock" token).
//
// Matching is on whole words over a lowercased, punctuation-split rendering
// of the value: "Unavailable" must never match on its "available" tail.
// Negative markers are checked first, so text naming both states ("was
// available, now sold out") reads as unavailable.
var (
	unavailableKeywords = []string{
		"unavailable", "outofstock", "out of stock", "soldout", "sold out",
		"discontinued", "false", "no",
	}
	availableKeywords = []string{
		"in stock", "instock", "available", "true", "yes",
	}
)

func available(res *extract.Result) bool {
	f := res.Field("availability")
	if f.Absent() {
		return false
	}

	words := strings.FieldsFunc(strings.ToLower(f.Value), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	canon := " " + strings.Join(words, " ") + " "

	for _, kw := range unavailableKeywords {
		if strings.Contains(canon, " "+kw+" ") {
			return false
		}
	}
	for _, kw := range availableKeywords {
		if strings.Contains(canon, " "+kw+" ") {
			return true
		}
	}
	return false
}

// confidence averages the declared confidence of the fields that resolved.
// Fields that never resolved are excluded from the average, not scored as 0.
func (v *Validator) confidence(cur *extract.Result, warnings int) float64 {
	var sum float64
	var n int
	for _, f := range cur.Fields {
		if f.Absent() {
			continue
		}
		sum += f.Confidence
		n++
	}
	if n == 0 {
		return 0
	}

	c := sum/float64(n) - v.cfg.WarningPenalty*float64(warnings)
	if c < 0 {
		c = 0
	}
	return math.Round(c*100) / 100
}
