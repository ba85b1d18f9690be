package entity

import (
	"fmt"

	lares "github.com/caarlos0/homekit-lares"
)

// PartitionOptions is the closed set of values a partition sensor can take.
var PartitionOptions = lares.PartitionStatuses()

func PartitionValue(p lares.Partition) lares.PartitionStatus {
	return p.Status
}

// PartitionVisible is false for partitions without a description.
func PartitionVisible(description string) bool {
	return description != ""
}

func PartitionID(idx int) string {
	return fmt.Sprintf("lares_partitions_%d", idx)
}
