package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
)

const computeServiceFilter = "Amazon Elastic Compute Cloud - Compute"

// CostExplorerAPI is the slice of the Cost Explorer client the actuals use.
type CostExplorerAPI interface {
	GetCostAndUsage(
		ctx context.Context,
		params *costexplorer.GetCostAndUsageInput,
		optFns ...func(*costexplorer.Options),
	) (*costexplorer.GetCostAndUsageOutput, error)
}

// CostExplorerActuals cross-checks the attributed totals against what AWS
// itself reports for the week so far.
type CostExplorerActuals struct {
	client CostExplorerAPI
	now    func() time.Time
}

func NewActuals(cfg awssdk.Config) *CostExplorerActuals {
	return &CostExplorerActuals{
		client: costexplorer.NewFromConfig(cfg),
		now:    time.Now,
	}
}

// NewActualsWithClient wires an explicit client, used by tests.
func NewActualsWithClient(client CostExplorerAPI, now func() time.Time) *CostExplorerActuals {
	return &CostExplorerActuals{client: client, now: now}
}

// WeekToDateCompute sums daily unblended EC2 compute cost from the start of
// the ISO week through today, credits and refunds excluded.
func (a *CostExplorerActuals) WeekToDateCompute(ctx context.Context) (float64, error) {
	now := a.now()

	result, err := a.client.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(weekStart(now).Format("2006-01-02")),
			End:   aws.String(now.AddDate(0, 0, 1).Format("2006-01-02")),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{"UnblendedCost"},
		Filter: &types.Expression{
			And: []types.Expression{
				{
					Dimensions: &types.DimensionValues{
						Key:    types.DimensionService,
						Values: []string{computeServiceFilter},
					},
				},
				{
					Not: &types.Expression{
						Dimensions: &types.DimensionValues{
							Key:    types.DimensionRecordType,
							Values: []string{"Credit", "Refund"},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("get cost and usage: %w", err)
	}

	var total float64
	for _, byTime := range result.ResultsByTime {
		metric, ok := byTime.Total["UnblendedCost"]
		if !ok || metric.Amount == nil {
			continue
		}
		amount, err := strconv.ParseFloat(*metric.Amount, 64)
		if err != nil {
			return 0, fmt.Errorf("parse cost amount %q: %w", *metric.Amount, err)
		}
		total += amount
	}
	return total, nil
}

func weekStart(at time.Time) time.Time {
	day := at
	for day.Weekday() != time.Monday {
		day = day.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, at.Location())
}
