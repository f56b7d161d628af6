package database

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const copyBatchSize = 500

// SerialTables resolves, in AllModels order, the tables keyed by an
// auto-increment id column. Only those are backed by a sequence.
func SerialTables(db *gorm.DB) ([]string, error) {
	var names []string
	for _, m := range AllModels() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return nil, fmt.Errorf("parse %T: %w", m, err)
		}
		if serial(stmt.Schema) {
			names = append(names, stmt.Schema.Table)
		}
	}
	return names, nil
}

func serial(s *schema.Schema) bool {
	pk := s.PrioritizedPrimaryField
	return pk != nil && pk.AutoIncrement && pk.DBName == "id"
}

// CopyAll copies every table from src to dst, keeping primary keys. Each
// table is written in its own transaction; a failing table is logged and
// the copy moves on. It returns the number of tables that failed.
func CopyAll(ctx context.Context, src, dst *gorm.DB, log *zap.Logger) int {
	failed := 0
	for _, m := range AllModels() {
		// *[]T for the model's T
		rows := reflect.New(reflect.SliceOf(reflect.TypeOf(m).Elem())).Interface()
		name := fmt.Sprintf("%T", m)

		if err := src.WithContext(ctx).Find(rows).Error; err != nil {
			log.Error("read source table", zap.String("model", name), zap.Error(err))
			failed++
			continue
		}
		n := reflect.ValueOf(rows).Elem().Len()
		if n == 0 {
			log.Info("table empty, skipped", zap.String("model", name))
			continue
		}

		err := dst.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.CreateInBatches(rows, copyBatchSize).Error
		})
		if err != nil {
			log.Error("write destination table", zap.String("model", name), zap.Error(err))
			failed++
			continue
		}
		log.Info("table copied", zap.String("model", name), zap.Int("rows", n))
	}
	return failed
}

// SyncSequences moves each PostgreSQL id sequence past the current max id,
// needed after rows were inserted with explicit keys.
func SyncSequences(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	tables, err := SerialTables(db)
	if err != nil {
		return err
	}
	var failed int
	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.WithContext(ctx).Exec(query).Error; err != nil {
			log.Error("sync sequence", zap.String("table", table), zap.Error(err))
			failed++
			continue
		}
		log.Info("sequence synced", zap.String("table", table))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sequences failed", failed, len(tables))
	}
	return nil
}
