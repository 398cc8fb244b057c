package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/models"
)

// Mode selects how fresh rows meet the archive.
type Mode int

const (
	// ModeAppend keeps existing rows untouched and appends unseen keys in
	// fetch order.
	ModeAppend Mode = iota
	// ModeMerge lets a higher-precedence fresh row replace an archived one
	// and sorts the result by key.
	ModeMerge
)

func (m Mode) String() string {
	switch m {
	case ModeAppend:
		return "append"
	case ModeMerge:
		return "merge"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Options configure one reconciliation pass.
type Options struct {
	Mode           Mode
	Columns        []string
	KeyWithNetwork bool
}

// Key identifies one observation.
type Key struct {
	Datetime string
	Device   string
	Network  string
}

// KeyOf builds the identity key of r; ok is false when a component is empty.
func KeyOf(r models.Row, withNetwork bool) (Key, bool) {
	k := Key{
		Datetime: strings.TrimSpace(r[models.ColDatetime]),
		Device:   strings.TrimSpace(r[models.ColDeviceName]),
	}
	if k.Datetime == "" || k.Device == "" {
		return Key{}, false
	}
	if withNetwork {
		k.Network = strings.TrimSpace(r[models.ColNetwork])
		if k.Network == "" {
			return Key{}, false
		}
	}
	return k, true
}

// Score is the precedence of a row: one point per non-empty calibrated
// pollutant value.
func Score(r models.Row) int {
	score := 0
	if r[models.ColPM25Calibrated] != "" {
		score++
	}
	if r[models.ColPM10Calibrated] != "" {
		score++
	}
	return score
}

// Stats counts what happened to every input row.
type Stats struct {
	Existing   int
	Fetched    int
	Invalid    int
	Duplicates int
	Superseded int
	Appended   int
}

// Result is the reconciled archive plus the fresh rows that made it in.
type Result struct {
	Rows     []models.Row
	Accepted []models.Row
	Stats    Stats
}

// Reconcile merges fresh rows into the existing archive rows.
//
// Rows with an empty key component are dropped. Within a key the row with
// the higher Score wins and ties keep the first one seen, existing rows
// first, so reconciling the same batch twice changes nothing.
func Reconcile(existing, fresh []models.Row, opts Options) Result {
	res := Result{Stats: Stats{Existing: len(existing), Fetched: len(fresh)}}
	columns := opts.Columns
	if len(columns) == 0 {
		columns = models.FullSchema
	}

	index := make(map[Key]int, len(existing)+len(fresh))
	out := make([]models.Row, 0, len(existing)+len(fresh))
	isFresh := make([]bool, 0, len(existing)+len(fresh))

	for _, r := range existing {
		k, ok := KeyOf(r, opts.KeyWithNetwork)
		if !ok {
			res.Stats.Invalid++
			continue
		}
		if i, seen := index[k]; seen {
			if Score(r) > Score(out[i]) {
				out[i] = r.Fill(columns)
			}
			res.Stats.Duplicates++
			continue
		}
		index[k] = len(out)
		out = append(out, r.Fill(columns))
		isFresh = append(isFresh, false)
	}

	for _, r := range fresh {
		k, ok := KeyOf(r, opts.KeyWithNetwork)
		if !ok {
			res.Stats.Invalid++
			continue
		}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, r.Fill(columns))
			isFresh = append(isFresh, true)
			res.Stats.Appended++
			continue
		}
		if !isFresh[i] && opts.Mode == ModeAppend {
			res.Stats.Duplicates++
			continue
		}
		if Score(r) <= Score(out[i]) {
			res.Stats.Duplicates++
			continue
		}
		if isFresh[i] {
			res.Stats.Duplicates++
		} else {
			res.Stats.Superseded++
		}
		out[i] = r.Fill(columns)
		isFresh[i] = true
	}

	if opts.Mode == ModeMerge {
		order := make([]int, len(out))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return less(out[order[a]], out[order[b]])
		})
		sorted := make([]models.Row, len(out))
		sortedFresh := make([]bool, len(out))
		for i, j := range order {
			sorted[i] = out[j]
			sortedFresh[i] = isFresh[j]
		}
		out, isFresh = sorted, sortedFresh
	}

	for i, r := range out {
		if isFresh[i] {
			res.Accepted = append(res.Accepted, r)
		}
	}
	res.Rows = out
	return res
}

// less orders rows by datetime, device and network. ISO-8601 text in one
// format sorts chronologically.
func less(a, b models.Row) bool {
	if a[models.ColDatetime] != b[models.ColDatetime] {
		return a[models.ColDatetime] < b[models.ColDatetime]
	}
	if a[models.ColDeviceName] != b[models.ColDeviceName] {
		return a[models.ColDeviceName] < b[models.ColDeviceName]
	}
	return a[models.ColNetwork] < b[models.ColNetwork]
}
