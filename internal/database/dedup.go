package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DedupStore checks and registers sample parameter hashes so that no
// two samples of the same generator with identical content parameters
// are uploaded. Registration is an atomic conditional insert on the
// (generator, param_hash) primary key.
type DedupStore struct {
	db *gorm.DB
}

func NewDedupStore(db *gorm.DB) *DedupStore {
	return &DedupStore{db: db}
}

// CheckAndRegister reports whether the hash is unique. A hash already
// registered by the same sample id passes: that is the same task
// arriving again through redelivery, not a duplicate.
func (s *DedupStore) CheckAndRegister(ctx context.Context, generatorType, paramHash, sampleId string) (bool, error) {
	record := SampleHash{Generator: generatorType, ParamHash: paramHash, SampleId: sampleId}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if res.Error != nil {
		return false, fmt.Errorf("failed to register sample hash: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var existing SampleHash
	err := s.db.WithContext(ctx).
		Where("generator = ? AND param_hash = ?", generatorType, paramHash).
		First(&existing).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up sample hash owner: %w", err)
	}

	return existing.SampleId == sampleId, nil
}
