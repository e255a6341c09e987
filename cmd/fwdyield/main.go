// Command fwdyield prices single-bond futures in Hull-White and reports the
// implied forward yield of the bond at delivery.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/meenmo/mocalib/bond"
	"github.com/meenmo/mocalib/config"
	"github.com/meenmo/mocalib/curve"
	"github.com/meenmo/mocalib/future"
	"github.com/meenmo/mocalib/hullwhite"
	"github.com/meenmo/mocalib/utils"
)

type yieldInput struct {
	TaskID           string  `json:"task_id,omitempty"`
	ValuationDate    string  `json:"valuation_date"`
	NoticeDate       string  `json:"notice_date"`
	DeliveryDate     string  `json:"delivery_date"`
	ConversionFactor float64 `json:"conversion_factor"`
	CouponFrequency  int     `json:"coupon_frequency"`
	// FuturesPrice is quoted per 100. When zero the model price is used.
	FuturesPrice float64        `json:"futures_price"`
	Cashflows    []cashflowJSON `json:"cashflows"`
	ZeroTimes    []float64      `json:"zero_times"`
	ZeroRates    []float64      `json:"zero_rates"`
	HullWhite    hullWhiteJSON  `json:"hull_white"`
}

type hullWhiteJSON struct {
	MeanReversion  float64   `json:"mean_reversion"`
	Volatility     []float64 `json:"volatility"`
	VolatilityTime []float64 `json:"volatility_time"`
}

type cashflowJSON struct {
	Date      string `json:"date"`
	Coupon    int64  `json:"coupon"`
	Principal int64  `json:"principal"`
}

type yieldOutput struct {
	TaskID          string  `json:"task_id,omitempty"`
	DeliveryDate    string  `json:"delivery_date"`
	ModelPrice      float64 `json:"model_price"`
	FuturesPrice    float64 `json:"futures_price"`
	InvoicePrice    float64 `json:"invoice_price"`
	AccruedInterest float64 `json:"accrued_interest"`
	ForwardYield    float64 `json:"forward_yield"`
	Iterations      int     `json:"iterations"`
	Error           string  `json:"error,omitempty"`
}

func main() {
	inputPath := pflag.StringP("input", "i", "", "JSON input path (reads stdin if omitted)")
	help := pflag.BoolP("help", "h", false, "Show help")
	pflag.Parse()

	if *help {
		fmt.Fprintln(os.Stderr, "Usage: fwdyield --input <path>")
		fmt.Fprintln(os.Stderr, "Price a single-bond future in Hull-White and solve the forward yield from the invoice price.")
		return
	}

	path := strings.TrimSpace(*inputPath)
	if path == "" {
		if stat, err := os.Stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) != 0 {
			fmt.Fprintln(os.Stderr, "Usage: fwdyield --input <path>")
			os.Exit(2)
		}
	}

	raw, err := readInput(path)
	if err != nil {
		exitError(fmt.Sprintf("read input: %v", err))
	}

	inputs, isArray, err := parseInputs(raw)
	if err != nil {
		exitError(fmt.Sprintf("parse JSON: %v", err))
	}

	hadError := false
	outputs := make([]yieldOutput, 0, len(inputs))
	for _, in := range inputs {
		out, err := process(in)
		if err != nil {
			hadError = true
			outputs = append(outputs, yieldOutput{TaskID: in.TaskID, Error: err.Error()})
			continue
		}
		outputs = append(outputs, *out)
	}

	if isArray {
		b, _ := json.Marshal(outputs)
		fmt.Println(string(b))
	} else {
		b, _ := json.Marshal(outputs[0])
		fmt.Println(string(b))
	}

	if hadError {
		os.Exit(1)
	}
}

func parseDate(field, v string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %v", field, err)
	}
	return d, nil
}

func process(in yieldInput) (*yieldOutput, error) {
	valuation, err := parseDate("valuation_date", in.ValuationDate)
	if err != nil {
		return nil, err
	}
	notice, err := parseDate("notice_date", in.NoticeDate)
	if err != nil {
		return nil, err
	}
	delivery, err := parseDate("delivery_date", in.DeliveryDate)
	if err != nil {
		return nil, err
	}

	cents := make([]bond.CashflowCents, 0, len(in.Cashflows))
	for _, cf := range in.Cashflows {
		d, err := parseDate("cashflow date", cf.Date)
		if err != nil {
			return nil, err
		}
		cents = append(cents, bond.CashflowCents{Date: d, CouponCents: cf.Coupon, PrincipalCents: cf.Principal})
	}
	deliverable, err := bond.NewDeliverable(in.TaskID, valuation, delivery, bond.ToCashflows(cents), in.CouponFrequency, in.ConversionFactor)
	if err != nil {
		return nil, err
	}

	zero, err := curve.NewYieldCurve(in.ZeroTimes, in.ZeroRates)
	if err != nil {
		return nil, err
	}
	model, err := hullwhite.NewParameters(in.HullWhite.MeanReversion, in.HullWhite.Volatility, in.HullWhite.VolatilityTime)
	if err != nil {
		return nil, err
	}
	engine := future.Engine{Config: config.DefaultConfig, Curves: curve.Bundle{"DSC": zero}, Model: model}
	contract := future.BondFuture{
		NoticeLastTime:   utils.TimeFrom(valuation, notice),
		DeliveryLastTime: utils.TimeFrom(valuation, delivery),
		Notional:         1,
		Basket:           []bond.Deliverable{deliverable},
		CurveName:        "DSC",
	}
	modelPrice, err := engine.Price(contract)
	if err != nil {
		return nil, err
	}

	price := in.FuturesPrice / 100
	if price == 0 {
		price = modelPrice
	}
	res, err := bond.ImpliedForwardYield(deliverable, contract.DeliveryLastTime, price)
	if err != nil {
		return nil, err
	}

	return &yieldOutput{
		TaskID:          in.TaskID,
		DeliveryDate:    in.DeliveryDate,
		ModelPrice:      modelPrice * 100,
		FuturesPrice:    price * 100,
		InvoicePrice:    res.InvoicePrice * 100,
		AccruedInterest: deliverable.AccruedInterest * 100,
		ForwardYield:    res.ForwardYield * 100,
		Iterations:      res.Iterations,
	}, nil
}

func readInput(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(os.Stdin)
}

func parseInputs(raw []byte) ([]yieldInput, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty input")
	}
	if trimmed[0] == '[' {
		var inputs []yieldInput
		if err := json.Unmarshal(trimmed, &inputs); err != nil {
			return nil, true, err
		}
		if len(inputs) == 0 {
			return nil, true, fmt.Errorf("empty input array")
		}
		return inputs, true, nil
	}
	var input yieldInput
	if err := json.Unmarshal(trimmed, &input); err != nil {
		return nil, false, err
	}
	return []yieldInput{input}, false, nil
}

func exitError(msg string) {
	b, _ := json.Marshal(yieldOutput{Error: msg})
	fmt.Println(string(b))
	os.Exit(1)
}
