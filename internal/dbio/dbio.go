// Package dbio implements nodes.DatabaseHandle against three
// reference backends (Postgres via lib/pq, MySQL via go-sql-driver,
// MongoDB via mongo-driver), wiring the teacher's driver stack into
// table_reader/custom_sql/table_writer rather than leaving those deps
// unused.
package dbio

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/flowforge/flowexec/internal/table"
)

// SQLHandle implements nodes.DatabaseHandle over database/sql, usable
// with either the postgres or mysql driver depending on how db was
// opened.
type SQLHandle struct {
	db            *sql.DB
	allowedTables map[string]bool // nil means every table is permitted
}

// NewSQLHandle opens db and scopes table_reader/table_writer access to
// allowedTables. A nil or empty allowedTables permits every table,
// matching an unrestricted development database.
func NewSQLHandle(driver, dsn string, allowedTables []string) (*SQLHandle, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbio: open %s: %w", driver, err)
	}
	var allow map[string]bool
	if len(allowedTables) > 0 {
		allow = make(map[string]bool, len(allowedTables))
		for _, t := range allowedTables {
			allow[t] = true
		}
	}
	return &SQLHandle{db: db, allowedTables: allow}, nil
}

// Authorize checks tableName against the configured allow-list before
// table_reader/table_writer issue a query or statement.
func (h *SQLHandle) Authorize(ctx context.Context, action, tableName string) error {
	if h.allowedTables == nil {
		return nil
	}
	if !h.allowedTables[tableName] {
		return fmt.Errorf("dbio: %s access to table %q is not permitted", action, tableName)
	}
	return nil
}

func (h *SQLHandle) Query(ctx context.Context, query string, args ...interface{}) (*table.Table, error) {
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var maps []map[string]interface{}
	for rows.Next() {
		scanDest := make([]interface{}, len(cols))
		scanVals := make([]interface{}, len(cols))
		for i := range scanDest {
			scanDest[i] = &scanVals[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = scanVals[i]
		}
		maps = append(maps, row)
	}
	return table.FromMaps(maps, cols), rows.Err()
}

func (h *SQLHandle) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := h.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MongoHandle implements nodes.DatabaseHandle over a mongo-driver
// client: Query's query argument names the collection and an optional
// first arg supplies a bson.M filter. No node has a mongo-specific
// config branch, and cmd/server does not construct a MongoHandle.
type MongoHandle struct {
	client        *mongo.Client
	dbName        string
	allowedTables map[string]bool // nil means every collection is permitted
}

func NewMongoHandle(client *mongo.Client, dbName string, allowedTables []string) *MongoHandle {
	var allow map[string]bool
	if len(allowedTables) > 0 {
		allow = make(map[string]bool, len(allowedTables))
		for _, t := range allowedTables {
			allow[t] = true
		}
	}
	return &MongoHandle{client: client, dbName: dbName, allowedTables: allow}
}

// Authorize checks the named collection against the configured
// allow-list before table_reader/table_writer issue a find or insert.
func (h *MongoHandle) Authorize(ctx context.Context, action, collection string) error {
	if h.allowedTables == nil {
		return nil
	}
	if !h.allowedTables[collection] {
		return fmt.Errorf("dbio: %s access to collection %q is not permitted", action, collection)
	}
	return nil
}

func (h *MongoHandle) Query(ctx context.Context, collection string, args ...interface{}) (*table.Table, error) {
	var filter bson.M
	if len(args) > 0 {
		if m, ok := args[0].(bson.M); ok {
			filter = m
		}
	}
	if filter == nil {
		filter = bson.M{}
	}
	cur, err := h.client.Database(h.dbName).Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var maps []map[string]interface{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(doc))
		for k, v := range doc {
			row[k] = v
		}
		maps = append(maps, row)
	}
	return table.FromMaps(maps, nil), cur.Err()
}

func (h *MongoHandle) Exec(ctx context.Context, collection string, args ...interface{}) (int64, error) {
	var doc bson.M
	if len(args) > 0 {
		if m, ok := args[0].(bson.M); ok {
			doc = m
		}
	}
	res, err := h.client.Database(h.dbName).Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return 0, err
	}
	if res.InsertedID != nil {
		return 1, nil
	}
	return 0, nil
}
