package analysis

import (
	"time"

	"crmsync/internal/config"
	"crmsync/internal/normalize"
)

// Input holds the raw records the aggregation reads.
type Input struct {
	Activities    []normalize.Record
	Deals         []normalize.Record
	Organizations []normalize.Record
	Users         []normalize.Record
}

// Options configures one aggregation run.
type Options struct {
	Fields config.AnalysisFields
	Now    time.Time // end of the window; zero means time.Now()
}

// BucketKey identifies one (month, organization, owner) group. Null ids form
// their own group.
type BucketKey struct {
	Month          normalize.Month
	OrganizationID normalize.ID
	OwnerID        normalize.ID
}

// Counters are the per-bucket activity and deal tallies.
type Counters struct {
	ActivitiesTotal  int
	ActivitiesLinked int
	DealsCreated     int
	DealsWon         int
	DealsLost        int
}

func (c Counters) IsZero() bool {
	return c == Counters{}
}

func (c *Counters) add(o Counters) {
	c.ActivitiesTotal += o.ActivitiesTotal
	c.ActivitiesLinked += o.ActivitiesLinked
	c.DealsCreated += o.DealsCreated
	c.DealsWon += o.DealsWon
	c.DealsLost += o.DealsLost
}

// Row is one line of the Analysis table.
type Row struct {
	BucketKey
	OrganizationName *string
	OwnerName        *string
	Counters
}

// Header is the column order of the Analysis table.
var Header = []string{
	"Month",
	"Organization ID",
	"Organization Name",
	"Owner ID",
	"Owner Name",
	"Activities Total",
	"Activities Linked to Deal",
	"Deals Created",
	"Deals Won",
	"Deals Lost",
}
