package sync

import "github.com/marcus/cardsync/internal/models"

// batch is one table's pending records, ids in local order and the
// transformed wire records in the same order.
type batch struct {
	table   models.Table
	ids     []string
	records []models.RemoteRecord
}

// tableSource extracts and transforms one table's slice of unsynced data.
type tableSource struct {
	table     models.Table
	ids       func(*models.UnsyncedData) []string
	transform func(*models.UnsyncedData) []models.RemoteRecord
}

// dispatchTable is the fixed routing from local entity type to remote table,
// in dispatch order.
var dispatchTable = []tableSource{
	{
		table: models.TableReviews,
		ids: func(d *models.UnsyncedData) []string {
			ids := make([]string, len(d.Reviews))
			for i, r := range d.Reviews {
				ids[i] = r.ID
			}
			return ids
		},
		transform: func(d *models.UnsyncedData) []models.RemoteRecord {
			out := make([]models.RemoteRecord, len(d.Reviews))
			for i, r := range d.Reviews {
				out[i] = ToRemoteReview(r)
			}
			return out
		},
	},
	{
		table: models.TableProgress,
		ids: func(d *models.UnsyncedData) []string {
			ids := make([]string, len(d.Progress))
			for i, p := range d.Progress {
				ids[i] = p.ID
			}
			return ids
		},
		transform: func(d *models.UnsyncedData) []models.RemoteRecord {
			out := make([]models.RemoteRecord, len(d.Progress))
			for i, p := range d.Progress {
				out[i] = ToRemoteProgress(p)
			}
			return out
		},
	},
	{
		table: models.TableStreaks,
		ids: func(d *models.UnsyncedData) []string {
			ids := make([]string, len(d.Streaks))
			for i, s := range d.Streaks {
				ids[i] = s.ID
			}
			return ids
		},
		transform: func(d *models.UnsyncedData) []models.RemoteRecord {
			out := make([]models.RemoteRecord, len(d.Streaks))
			for i, s := range d.Streaks {
				out[i] = ToRemoteStreak(s)
			}
			return out
		},
	},
}

// buildBatches returns the non-empty batches in dispatch order. Empty tables
// are skipped before any transform runs.
func buildBatches(data *models.UnsyncedData) []batch {
	if data == nil {
		return nil
	}
	var out []batch
	for _, src := range dispatchTable {
		if data.Len(src.table) == 0 {
			continue
		}
		out = append(out, batch{
			table:   src.table,
			ids:     src.ids(data),
			records: src.transform(data),
		})
	}
	return out
}
