package analysis

import (
	"sort"
	"strings"
	"time"

	"crmsync/internal/normalize"
)

// Aggregator builds the monthly organization × owner table. Shape problems
// found while coercing fields are kept in Issues.
type Aggregator struct {
	opts Options
	norm normalize.Normalizer
}

func NewAggregator(opts Options) *Aggregator {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	return &Aggregator{opts: opts}
}

// Aggregate runs one aggregation with default issue handling.
func Aggregate(in Input, opts Options) []Row {
	return NewAggregator(opts).Aggregate(in)
}

// Issues returns the shape problems seen during the last runs.
func (a *Aggregator) Issues() []*normalize.DataShapeError {
	return a.norm.Issues()
}

type activity struct {
	due    normalize.Month
	hasDue bool
	done   bool
	linked bool
	org    normalize.ID
	owner  normalize.ID
}

type deal struct {
	added     normalize.Month
	hasAdded  bool
	closed    normalize.Month
	hasClosed bool
	status    string
	org       normalize.ID
	owner     normalize.ID
}

// Aggregate counts activities and deals per (month, organization, owner)
// from the earliest dated record through the current month. Buckets with
// nothing to report are omitted and rows are sorted by month, organization
// and owner.
func (a *Aggregator) Aggregate(in Input) []Row {
	activities := a.projectActivities(in.Activities)
	deals := a.projectDeals(in.Deals)

	first, ok := earliestMonth(activities, deals)
	if !ok {
		return nil
	}
	w := window{start: first, end: normalize.MonthKey(a.opts.Now)}
	if w.end.Before(w.start) {
		return nil
	}

	var total, linked, created, won, lost grouped
	wonStatus := strings.ToLower(a.opts.Fields.WonStatus)
	lostStatus := strings.ToLower(a.opts.Fields.LostStatus)

	for _, act := range activities {
		if !act.done || !act.hasDue {
			continue
		}
		key := BucketKey{Month: act.due, OrganizationID: act.org, OwnerID: act.owner}
		total.inc(key)
		if act.linked {
			linked.inc(key)
		}
	}
	for _, d := range deals {
		if d.hasAdded {
			created.inc(BucketKey{Month: d.added, OrganizationID: d.org, OwnerID: d.owner})
		}
		if !d.hasClosed {
			continue
		}
		key := BucketKey{Month: d.closed, OrganizationID: d.org, OwnerID: d.owner}
		switch d.status {
		case wonStatus:
			won.inc(key)
		case lostStatus:
			lost.inc(key)
		}
	}

	buckets := union(w, []contribution{
		{&total, func(n int) Counters { return Counters{ActivitiesTotal: n} }},
		{&linked, func(n int) Counters { return Counters{ActivitiesLinked: n} }},
		{&created, func(n int) Counters { return Counters{DealsCreated: n} }},
		{&won, func(n int) Counters { return Counters{DealsWon: n} }},
		{&lost, func(n int) Counters { return Counters{DealsLost: n} }},
	})

	orgNames := a.names(in.Organizations, a.opts.Fields.OrgID, a.opts.Fields.OrgName)
	userNames := a.names(in.Users, a.opts.Fields.UserID, a.opts.Fields.UserName)

	rows := make([]Row, 0, len(buckets.order))
	for _, key := range buckets.order {
		c := buckets.counts[key]
		if c.IsZero() {
			continue
		}
		rows = append(rows, Row{
			BucketKey:        key,
			OrganizationName: orgNames[key.OrganizationID],
			OwnerName:        userNames[key.OwnerID],
			Counters:         *c,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return compareKeys(rows[i].BucketKey, rows[j].BucketKey) < 0
	})
	return rows
}

func (a *Aggregator) projectActivities(records []normalize.Record) []activity {
	f := a.opts.Fields
	owner := pickField(records, f.ActivityOwner)

	recs := a.norm.Identifier(records, f.ActivityOrg)
	recs = a.norm.Identifier(recs, owner)
	recs = a.norm.Identifier(recs, f.ActivityDeal)
	recs = a.norm.Timestamps(recs, f.ActivityDue)

	out := make([]activity, 0, len(recs))
	for _, rec := range recs {
		var act activity
		if t, ok := timeField(rec, f.ActivityDue); ok {
			act.due, act.hasDue = normalize.MonthKey(t), true
		}
		done, _ := rec.Get(f.ActivityDone)
		act.done = normalize.ToBool(done)
		act.linked = idField(rec, f.ActivityDeal).Valid
		act.org = idField(rec, f.ActivityOrg)
		act.owner = idField(rec, owner)
		out = append(out, act)
	}
	return out
}

func (a *Aggregator) projectDeals(records []normalize.Record) []deal {
	f := a.opts.Fields
	owner := pickField(records, f.DealOwner)

	recs := a.norm.Identifier(records, f.DealOrg)
	recs = a.norm.Identifier(recs, owner)
	recs = a.norm.Timestamps(recs, f.DealAdded, f.DealClosed)

	out := make([]deal, 0, len(recs))
	for _, rec := range recs {
		var d deal
		if t, ok := timeField(rec, f.DealAdded); ok {
			d.added, d.hasAdded = normalize.MonthKey(t), true
		}
		if t, ok := timeField(rec, f.DealClosed); ok {
			d.closed, d.hasClosed = normalize.MonthKey(t), true
		}
		if status, ok := rec.Get(f.DealStatus); ok {
			s, _ := normalize.ToString(status)
			d.status = strings.ToLower(strings.TrimSpace(s))
		}
		d.org = idField(rec, f.DealOrg)
		d.owner = idField(rec, owner)
		out = append(out, d)
	}
	return out
}

// names maps canonical ids to display names. The first record with a given
// id wins.
func (a *Aggregator) names(records []normalize.Record, idKey, nameKey string) map[normalize.ID]*string {
	out := make(map[normalize.ID]*string)
	for _, rec := range a.norm.Identifier(records, idKey) {
		id := idField(rec, idKey)
		if !id.Valid {
			continue
		}
		if _, dup := out[id]; dup {
			continue
		}
		var name *string
		if v, ok := rec.Get(nameKey); ok {
			if s, ok := normalize.ToString(v); ok {
				name = &s
			}
		}
		out[id] = name
	}
	return out
}

// pickField returns the first candidate present in any record, directly or
// as a flattened "<field>.id" column. The first candidate is the fallback.
func pickField(records []normalize.Record, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	for _, c := range candidates {
		for _, rec := range records {
			if rec.Has(c) || rec.Has(c+".id") {
				return c
			}
		}
	}
	return candidates[0]
}

func idField(rec normalize.Record, key string) normalize.ID {
	v, _ := rec.Get(key)
	id, _ := normalize.ToID(v)
	return id
}

func timeField(rec normalize.Record, key string) (time.Time, bool) {
	v, _ := rec.Get(key)
	t, ok := v.(time.Time)
	return t, ok && !t.IsZero()
}

func earliestMonth(activities []activity, deals []deal) (normalize.Month, bool) {
	var first normalize.Month
	found := false
	consider := func(m normalize.Month) {
		if !found || m.Before(first) {
			first, found = m, true
		}
	}
	for _, act := range activities {
		if act.hasDue {
			consider(act.due)
		}
	}
	for _, d := range deals {
		if d.hasAdded {
			consider(d.added)
		}
		if d.hasClosed {
			consider(d.closed)
		}
	}
	return first, found
}

type window struct {
	start, end normalize.Month
}

func (w window) contains(m normalize.Month) bool {
	return !m.Before(w.start) && !w.end.Before(m)
}

// grouped is a count per bucket that remembers first-appearance order.
type grouped struct {
	order  []BucketKey
	counts map[BucketKey]int
}

func (g *grouped) inc(key BucketKey) {
	if g.counts == nil {
		g.counts = make(map[BucketKey]int)
	}
	if _, ok := g.counts[key]; !ok {
		g.order = append(g.order, key)
	}
	g.counts[key]++
}

type contribution struct {
	counts *grouped
	as     func(int) Counters
}

type buckets struct {
	order  []BucketKey
	counts map[BucketKey]*Counters
}

// union outer-joins the grouped counts on their key. Missing counters stay
// zero and buckets outside the window are dropped.
func union(w window, parts []contribution) buckets {
	out := buckets{counts: make(map[BucketKey]*Counters)}
	for _, part := range parts {
		for _, key := range part.counts.order {
			if !w.contains(key.Month) {
				continue
			}
			c, ok := out.counts[key]
			if !ok {
				c = &Counters{}
				out.counts[key] = c
				out.order = append(out.order, key)
			}
			c.add(part.as(part.counts.counts[key]))
		}
	}
	return out
}

func compareKeys(a, b BucketKey) int {
	if c := a.Month.Compare(b.Month); c != 0 {
		return c
	}
	if c := normalize.CompareIDs(a.OrganizationID, b.OrganizationID); c != 0 {
		return c
	}
	return normalize.CompareIDs(a.OwnerID, b.OwnerID)
}
