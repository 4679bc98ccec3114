package db

import "time"

type BlockModel struct {
	Height         int64     `gorm:"primaryKey;autoIncrement:false"`
	BlockHash      string    `gorm:"uniqueIndex;not null"`
	PreviousHash   string    `gorm:"not null"`
	ParentHash     *string   `gorm:"->"`
	MerkleRoot     string    `gorm:"not null"`
	AuditScore     float64   `gorm:"not null"`
	Nonce          int64     `gorm:"not null"`
	BlockTimestamp time.Time `gorm:"not null"`
	TxCount        int       `gorm:"not null"`
}

func (BlockModel) TableName() string { return "ledger_blocks" }

type TransactionModel struct {
	ContentHash string    `gorm:"primaryKey"`
	BlockHeight int64     `gorm:"index;not null"`
	TxIndex     int       `gorm:"not null"`
	Kind        string    `gorm:"not null"`
	Payload     []byte    `gorm:"type:bytea;not null"`
	Submitter   []byte    `gorm:"type:bytea;not null"`
	ArtifactID  *string   `gorm:"index"`
	CaseNumber  *string   `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (TransactionModel) TableName() string { return "ledger_transactions" }

type CustodyEventModel struct {
	ArtifactID   string    `gorm:"primaryKey"`
	BlockHeight  int64     `gorm:"primaryKey;autoIncrement:false"`
	TxIndex      int       `gorm:"primaryKey;autoIncrement:false"`
	Seq          int       `gorm:"primaryKey;autoIncrement:false"`
	ID           string    `gorm:"type:uuid;uniqueIndex;not null"`
	EventType    string    `gorm:"not null"`
	Actor        []byte    `gorm:"type:bytea;not null"`
	Note         string    `gorm:"not null"`
	AnchorTxHash string    `gorm:"not null"`
	RecordedAt   time.Time `gorm:"not null"`
}

func (CustodyEventModel) TableName() string { return "custody_events" }
