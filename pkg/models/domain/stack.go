package domain

// InstanceTypeNotCountable is attributed to an instance that still exists but is
// not in a running state. It prices at zero while keeping the record visible.
const InstanceTypeNotCountable = "not_countable"

// UserUndefined is the owner recorded for stacks with no triggeredBy output.
const UserUndefined = "Undefined"

// VolumeSet maps a volume type (e.g. "gp2") to the summed size in GB of all
// attached volumes of that type.
type VolumeSet map[string]int

// Attribution is one countable stack resolved to its owner and priced resources.
type Attribution struct {
	Stack        string
	User         string
	InstanceType string
	Volumes      VolumeSet
}
