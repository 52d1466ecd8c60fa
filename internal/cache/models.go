package cache

import (
	"time"

	"gorm.io/datatypes"
)

// Entry is one cached compiled module, keyed by the query text's hash and
// the grammar revision it was compiled (and possibly linked) against.
type Entry struct {
	ID int64 `gorm:"primaryKey;autoIncrement"`

	QueryHash string `gorm:"type:varchar(64);uniqueIndex:idx_query_grammar;not null"`
	Grammar   string `gorm:"type:varchar(100);uniqueIndex:idx_query_grammar;not null"`

	// Module is the emitted bytecode stream.
	Module []byte `gorm:"type:blob;not null"`

	// Meta holds the entrypoint names and result-type summaries, for
	// inspection without decoding the module.
	Meta datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName customization for a cleaner name.
func (Entry) TableName() string { return "modules" }
