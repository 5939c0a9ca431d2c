package tools

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/quantumflow/finassist/internal/gold"
	"github.com/quantumflow/finassist/internal/models"
)

// Metric selects the customer attribute a chart shows
type Metric string

const (
	MetricAvgTransaction Metric = "avg_transaction"
	MetricFrequency      Metric = "frequency"
	MetricRecency        Metric = "recency"
	MetricCrossBorder    Metric = "cross_border"
)

// Metrics lists the supported selectors in declaration order
func Metrics() []Metric {
	return []Metric{MetricAvgTransaction, MetricFrequency, MetricRecency, MetricCrossBorder}
}

type metricSpec struct {
	column string
	title  string
	label  string
	value  func(models.Customer) float64
}

var metricSpecs = map[Metric]metricSpec{
	MetricAvgTransaction: {
		column: "avg_transaction_value",
		title:  "Distribution of Average Transaction Value",
		label:  "Avg Transaction Value (EUR)",
		value:  func(c models.Customer) float64 { return c.AvgTransactionValue },
	},
	MetricFrequency: {
		column: "transaction_frequency",
		title:  "Distribution of Transaction Frequency",
		label:  "Number of Transactions",
		value:  func(c models.Customer) float64 { return float64(c.TransactionFrequency) },
	},
	MetricRecency: {
		column: "recency_days",
		title:  "Distribution of Recency (Days Since Last Transaction)",
		label:  "Recency (days)",
		value:  func(c models.Customer) float64 { return float64(c.RecencyDays) },
	},
	MetricCrossBorder: {
		column: "cross_border_count",
		title:  "Distribution of Cross-Border Transaction Count",
		label:  "Cross-Border Transaction Count",
		value:  func(c models.Customer) float64 { return float64(c.CrossBorderCount) },
	},
}

const (
	histogramBins = 30
	chartWidth    = 10 * vg.Inch
	chartHeight   = 6 * vg.Inch
)

// VisualizationRequest asks for one customer's position within a metric distribution
type VisualizationRequest struct {
	CustomerID int64  `json:"customer_id"`
	Metric     string `json:"plot_type"`
}

// Bin is one histogram bucket
type Bin struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// Chart is a distribution chart handle. Nothing is drawn until Render or Save is called.
type Chart struct {
	Metric         Metric    `json:"metric"`
	CustomerID     int64     `json:"customer_id"`
	Title          string    `json:"title"`
	XLabel         string    `json:"x_label"`
	YLabel         string    `json:"y_label"`
	Bins           []Bin     `json:"bins"`
	ReferenceValue float64   `json:"reference_value"`
	ReferenceLabel string    `json:"reference_label"`
	values         []float64 // one per customer
}

// VizTool builds distribution charts from the gold customers table
type VizTool struct {
	store *gold.Store
}

// NewVizTool creates a visualization tool over a read-only store
func NewVizTool(store *gold.Store) *VizTool {
	return &VizTool{store: store}
}

// Generate builds the chart for req
func (v *VizTool) Generate(req VisualizationRequest) (*Chart, error) {
	customer, ok := v.store.Customer(req.CustomerID)
	if !ok {
		return nil, &NotFoundError{CustomerID: req.CustomerID}
	}

	metric := Metric(req.Metric)
	spec, ok := metricSpecs[metric]
	if !ok {
		return nil, &UnsupportedMetricError{Metric: req.Metric}
	}

	customers := v.store.Customers()
	values := make([]float64, len(customers))
	for i, c := range customers {
		values[i] = spec.value(c)
	}

	hist, err := plotter.NewHist(plotter.Values(values), histogramBins)
	if err != nil {
		return nil, fmt.Errorf("failed to bin %s: %w", spec.column, err)
	}
	bins := make([]Bin, len(hist.Bins))
	for i, b := range hist.Bins {
		bins[i] = Bin{Min: b.Min, Max: b.Max, Count: int(b.Weight)}
	}

	ref := spec.value(customer)
	return &Chart{
		Metric:         metric,
		CustomerID:     customer.CustomerID,
		Title:          spec.title,
		XLabel:         spec.label,
		YLabel:         "Count of Customers",
		Bins:           bins,
		ReferenceValue: ref,
		ReferenceLabel: fmt.Sprintf("Customer %d (%.2f)", customer.CustomerID, ref),
		values:         values,
	}, nil
}

// Plot assembles the gonum plot: the histogram plus a dashed red reference line
func (c *Chart) Plot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = c.XLabel
	p.Y.Label.Text = c.YLabel

	hist, err := plotter.NewHist(plotter.Values(c.values), histogramBins)
	if err != nil {
		return nil, fmt.Errorf("failed to build histogram: %w", err)
	}
	hist.FillColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	p.Add(hist)

	top := 1.0
	for _, b := range c.Bins {
		if float64(b.Count) > top {
			top = float64(b.Count)
		}
	}

	line, err := plotter.NewLine(plotter.XYs{
		{X: c.ReferenceValue, Y: 0},
		{X: c.ReferenceValue, Y: top},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build reference line: %w", err)
	}
	line.LineStyle.Color = color.RGBA{R: 0xff, A: 0xff}
	line.LineStyle.Width = vg.Points(2)
	line.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	p.Add(line)

	p.Legend.Add(c.ReferenceLabel, line)
	p.Legend.Top = true

	return p, nil
}

// Render writes the chart in the given format ("png", "svg", "pdf")
func (c *Chart) Render(w io.Writer, format string) error {
	p, err := c.Plot()
	if err != nil {
		return err
	}

	wt, err := p.WriterTo(chartWidth, chartHeight, format)
	if err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save writes the chart to path; the extension picks the format
func (c *Chart) Save(path string) error {
	p, err := c.Plot()
	if err != nil {
		return err
	}
	return p.Save(chartWidth, chartHeight, path)
}
