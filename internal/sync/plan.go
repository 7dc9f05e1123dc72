package sync

import "github.com/marcus/navsync/internal/models"

// Chunk is one planned batch. Index is its position in the plan and names
// the batch in logs and errors.
type Chunk struct {
	Index   int
	Records []models.WireRecord
	Deletes []models.Identity
}

// Ops counts the operations in the chunk.
func (c Chunk) Ops() int { return len(c.Records) + len(c.Deletes) }

// PlanBatches splits upserts and deletions into ordered chunks of at most
// limit operations. Upserts come first; deletions fill the remaining room
// and spill into further chunks, so a large delete set is chunked the same
// way as upserts.
func PlanBatches(records []models.WireRecord, deletes []models.Identity, limit int) []Chunk {
	if limit <= 0 {
		limit = BatchLimit
	}
	var chunks []Chunk
	cur := Chunk{}
	flush := func() {
		if cur.Ops() == 0 {
			return
		}
		cur.Index = len(chunks)
		chunks = append(chunks, cur)
		cur = Chunk{}
	}

	for _, r := range records {
		if cur.Ops() == limit {
			flush()
		}
		cur.Records = append(cur.Records, r)
	}
	for _, d := range deletes {
		if cur.Ops() == limit {
			flush()
		}
		cur.Deletes = append(cur.Deletes, d)
	}
	flush()
	return chunks
}
