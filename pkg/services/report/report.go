package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/qa-infra/burner/pkg/models/domain"
	modelstore "github.com/qa-infra/burner/pkg/models/store"
	"github.com/qa-infra/burner/pkg/store/elastic/spend"
)

// DefaultMaxRows caps how many users a report displays.
const DefaultMaxRows = 100

const intro = "Table below displays weekly expenses on applications deployed in the QA environment.\n" +
	"Expenses include EC2 and EBS charges.\n\n"

const introHTML = "<p>Table below displays weekly expenses on applications deployed in the QA environment." +
	"<br/>Expenses include EC2 and EBS charges.</p>\n"

// ActualsFetcher supplies the optional provider-reported spend appended to the
// report for comparison.
type ActualsFetcher interface {
	WeekToDateCompute(ctx context.Context) (float64, error)
}

type Options struct {
	Store   spend.Store
	Actuals ActualsFetcher // nil disables the comparison line
	MaxRows int
	Now     func() time.Time
}

type Builder struct {
	store   spend.Store
	actuals ActualsFetcher
	maxRows int
	now     func() time.Time
}

func NewBuilder(opts Options) *Builder {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Builder{
		store:   opts.Store,
		actuals: opts.Actuals,
		maxRows: opts.MaxRows,
		now:     opts.Now,
	}
}

// Subject carries the ISO week number the report covers.
func (b *Builder) Subject() string {
	_, week := b.now().ISOWeek()
	return fmt.Sprintf("Weekly report %d", week)
}

// Build renders the current week's ranked spend in both plain and HTML form.
// A store failure is logged and the report is still produced with zero rows:
// the sender dispatches whatever Build returns. See DESIGN.md before changing
// that.
func (b *Builder) Build(ctx context.Context) *domain.Report {
	logger := zerolog.Ctx(ctx)

	records, err := b.store.TopSpenders(ctx, b.maxRows)
	if err != nil {
		logger.Error().Err(err).Msg("spend query failed, sending empty report")
		records = nil
	}

	rows := lo.Map(records, func(r modelstore.UserSpend, i int) domain.RankedSpend {
		return domain.RankedSpend{Rank: i + 1, User: r.User, Spent: r.TotalSpent}
	})
	total := lo.SumBy(rows, func(r domain.RankedSpend) float64 { return r.Spent })

	t := table.NewWriter()
	t.AppendHeader(table.Row{"User", "Expenses, USD"})
	for _, row := range rows {
		t.AppendRow(table.Row{
			fmt.Sprintf("%02d. %s", row.Rank, row.User),
			fmt.Sprintf("%.2f", row.Spent),
		})
	}
	t.AppendFooter(table.Row{"Total", fmt.Sprintf("$%.2f", total)})

	plain := intro + t.Render() + "\n"
	html := introHTML + t.RenderHTML() + "\n"

	if line := b.actualsLine(ctx); line != "" {
		plain += "\n" + line + "\n"
		html += fmt.Sprintf("<p>%s</p>\n", line)
	}

	return &domain.Report{
		Rows:  rows,
		Total: total,
		Plain: plain,
		HTML:  html,
	}
}

func (b *Builder) actualsLine(ctx context.Context) string {
	if b.actuals == nil {
		return ""
	}
	amount, err := b.actuals.WeekToDateCompute(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("cost explorer lookup failed, omitting actuals line")
		return ""
	}
	return fmt.Sprintf("AWS reported EC2 spend (week to date): $%.2f", amount)
}
