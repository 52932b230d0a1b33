// Package audit fills created_by/updated_by columns for every model that has
// them, using the actor carried in the statement context.
package audit

import (
	"context"
	"reflect"

	"gorm.io/gorm"
)

const (
	fieldCreatedBy = "CreatedBy"
	fieldUpdatedBy = "UpdatedBy"
)

type actorKey struct{}

// WithActor 在 context 中记录操作人
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom 读取 context 中的操作人
func ActorFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Plugin gorm 审计插件
type Plugin struct {
	// DefaultActor is used when the context carries no actor.
	DefaultActor string
}

func (p *Plugin) Name() string {
	return "audit"
}

func (p *Plugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register("audit:before_create", p.beforeCreate); err != nil {
		return err
	}
	return db.Callback().Update().Before("gorm:update").Register("audit:before_update", p.beforeUpdate)
}

func (p *Plugin) actor(db *gorm.DB) string {
	if actor := ActorFrom(db.Statement.Context); actor != "" {
		return actor
	}
	return p.DefaultActor
}

func (p *Plugin) beforeCreate(db *gorm.DB) {
	if db.Statement.Schema == nil {
		return
	}
	actor := p.actor(db)
	if actor == "" {
		return
	}
	setOnDest(db, fieldCreatedBy, actor)
	setOnDest(db, fieldUpdatedBy, actor)
}

func (p *Plugin) beforeUpdate(db *gorm.DB) {
	if db.Statement.Schema == nil {
		return
	}
	actor := p.actor(db)
	if actor == "" {
		return
	}
	if field := db.Statement.Schema.LookUpField(fieldUpdatedBy); field != nil {
		db.Statement.SetColumn(field.DBName, actor, true)
	}
}

// setOnDest handles both single records and batch inserts.
func setOnDest(db *gorm.DB, name, value string) {
	field := db.Statement.Schema.LookUpField(name)
	if field == nil {
		return
	}

	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			elem := reflect.Indirect(rv.Index(i))
			if elem.Kind() == reflect.Struct && elem.CanAddr() {
				db.AddError(field.Set(db.Statement.Context, elem, value))
			}
		}
	case reflect.Struct:
		if rv.CanAddr() {
			db.AddError(field.Set(db.Statement.Context, rv, value))
		}
	}
}
