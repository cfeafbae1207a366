package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// MembersFromLabels groups point indices by cluster label.
func MembersFromLabels(labels []int, k int) []*roaring.Bitmap {
	members := make([]*roaring.Bitmap, k)
	for i := range members {
		members[i] = roaring.New()
	}
	for i, l := range labels {
		members[l].Add(uint32(i))
	}
	for _, bm := range members {
		bm.RunOptimize()
	}
	return members
}

// SaveMembers replaces the stored cluster membership of a run.
func (d *Database) SaveMembers(runID string, members []*roaring.Bitmap) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM run_members WHERE run_id=?", runID); err != nil {
		tx.Rollback()
		return err
	}
	for c, bm := range members {
		blob, err := bm.ToBytes()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode cluster %d: %w", c, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO run_members (run_id, cluster, size, bitmap) VALUES (?, ?, ?, ?)",
			runID, c, bm.GetCardinality(), blob,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetMembers returns the points assigned to one cluster of a run, or nil,
// nil when nothing is stored for it.
func (d *Database) GetMembers(runID string, cluster int) (*roaring.Bitmap, error) {
	var blob []byte
	err := d.db.QueryRow("SELECT bitmap FROM run_members WHERE run_id=? AND cluster=?", runID, cluster).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("decode cluster %d: %w", cluster, err)
	}
	return bm, nil
}
