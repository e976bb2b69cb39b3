package pricing

import (
	"fmt"
	"time"

	"github.com/qa-infra/burner/pkg/models/domain"
	"github.com/spf13/viper"
)

// On-demand hourly rates for the instance families provisioned in QA.
var defaultInstanceHourly = map[string]float64{
	"t2.nano":     0.0073,
	"t2.micro":    0.0146,
	"t2.small":    0.0292,
	"t2.medium":   0.0584,
	"t2.large":    0.1168,
	"t2.xlarge":   0.2336,
	"t2.2xlarge":  0.4672,
	"m5.large":    0.12,
	"m5.xlarge":   0.24,
	"m5.2xlarge":  0.48,
	"m5.4xlarge":  0.96,
	"c5.large":    0.098,
	"c5.xlarge":   0.196,
	"c5.2xlarge":  0.392,
	"c5.4xlarge":  0.784,
	"c5.9xlarge":  1.764,
	"c5.18xlarge": 3.528,
	"c4.large":    0.115,
	"c4.xlarge":   0.231,
	"c4.2xlarge":  0.462,
	"c4.4xlarge":  0.924,
	"c4.8xlarge":  1.848,

	domain.InstanceTypeNotCountable: 0,
}

// Per GB-month.
var defaultStorageGBMonth = map[string]float64{
	"gp2": 0.12,
}

// Table resolves instance and volume types to money. It is built once at
// startup and passed to the collector.
type Table struct {
	instanceHourly      map[string]float64
	storageGBMonth      map[string]float64
	priceStoppedVolumes bool
	now                 func() time.Time
}

type fileTable struct {
	InstanceHourly      map[string]float64 `mapstructure:"instance_hourly"`
	StorageGBMonth      map[string]float64 `mapstructure:"storage_gb_month"`
	PriceStoppedVolumes *bool              `mapstructure:"price_stopped_volumes"`
}

// Default returns the built-in tables with the stopped-volume policy enabled.
func Default() *Table {
	t := &Table{
		instanceHourly:      make(map[string]float64, len(defaultInstanceHourly)),
		storageGBMonth:      make(map[string]float64, len(defaultStorageGBMonth)),
		priceStoppedVolumes: true,
		now:                 time.Now,
	}
	for k, v := range defaultInstanceHourly {
		t.instanceHourly[k] = v
	}
	for k, v := range defaultStorageGBMonth {
		t.storageGBMonth[k] = v
	}
	return t
}

// Load merges a YAML overrides file over the built-in tables. Entries in the
// file replace or extend the defaults individually.
func Load(path string) (*Table, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var overrides fileTable
	if err := v.Unmarshal(&overrides); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}

	t := Default()
	for k, price := range overrides.InstanceHourly {
		t.instanceHourly[k] = price
	}
	for k, price := range overrides.StorageGBMonth {
		t.storageGBMonth[k] = price
	}
	if overrides.PriceStoppedVolumes != nil {
		t.priceStoppedVolumes = *overrides.PriceStoppedVolumes
	}
	return t, nil
}

// WithClock rebinds the clock used for month-length proration.
func (t *Table) WithClock(now func() time.Time) *Table {
	t.now = now
	return t
}

// InstancePrice returns the hourly rate for an instance type. An unknown type
// is an error rather than a silent zero; only the not_countable sentinel
// prices at zero.
func (t *Table) InstancePrice(instanceType string) (float64, error) {
	price, ok := t.instanceHourly[instanceType]
	if !ok {
		return 0, fmt.Errorf("no price for instance type %q", instanceType)
	}
	return price, nil
}

// StorageCharge prorates a volume's monthly rate over the days of the current
// calendar month: rate * size / days. This is a snapshot-level simplification,
// not a billing-accurate model.
func (t *Table) StorageCharge(volumeType string, sizeGB int) (float64, error) {
	rate, ok := t.storageGBMonth[volumeType]
	if !ok {
		return 0, fmt.Errorf("no price for volume type %q", volumeType)
	}
	return rate * float64(sizeGB) / float64(daysInMonth(t.now())), nil
}

// PriceStoppedVolumes reports whether volumes of a stopped instance are still
// charged to the owner.
func (t *Table) PriceStoppedVolumes() bool {
	return t.priceStoppedVolumes
}

func daysInMonth(at time.Time) int {
	return time.Date(at.Year(), at.Month()+1, 0, 0, 0, 0, 0, at.Location()).Day()
}
