package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DocumentNumber records every issued document number. The unique indexes
// turn a numbering race into a duplicate-key error.
type DocumentNumber struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Prefix    string    `gorm:"size:10;not null;uniqueIndex:idx_prefix_sequence" json:"prefix"`
	Sequence  int       `gorm:"not null;uniqueIndex:idx_prefix_sequence" json:"sequence"`
	Number    string    `gorm:"size:50;not null;uniqueIndex" json:"number"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func FormatDocumentNumber(prefix string, sequence int) string {
	return fmt.Sprintf("%s-%06d", prefix, sequence)
}

// IssueDocumentNumber inserts the next number for prefix. offset is added to
// the current maximum so a retry after a collision skips past it.
func IssueDocumentNumber(tx *gorm.DB, prefix string, offset int) (string, error) {
	var current int
	err := tx.Model(&DocumentNumber{}).
		Where("prefix = ?", prefix).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&current).Error
	if err != nil {
		return "", err
	}
	seq := current + 1 + offset
	doc := DocumentNumber{
		Prefix:   prefix,
		Sequence: seq,
		Number:   FormatDocumentNumber(prefix, seq),
	}
	if err := tx.Create(&doc).Error; err != nil {
		return "", err
	}
	return doc.Number, nil
}
