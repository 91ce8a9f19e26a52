package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"flavorfind/internal/dsl"
)

// ===== META HANDLERS =====

type metaEntityListItem struct {
	Module string `json:"module"`
	Entity string `json:"entity"`
}

// MetaListHandler lists the record kinds the server was started with.
func MetaListHandler(schemas map[string]*dsl.Entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]metaEntityListItem, 0, len(schemas))
		for _, e := range schemas {
			out = append(out, metaEntityListItem{Module: e.Module, Entity: e.Name})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Ref      string            `json:"ref,omitempty"`
	OnDelete string            `json:"onDelete,omitempty"` // refs only
	Options  map[string]string `json:"options,omitempty"`
}

type metaEntity struct {
	Module string      `json:"module"`
	Entity string      `json:"entity"`
	Fields []metaField `json:"fields"`
}

func MetaEntityHandler(schemas map[string]*dsl.Entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		schema := lookupEntity(schemas, c.Param("entity"))
		if schema == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		fields := make([]metaField, 0, len(schema.Fields))
		for _, f := range schema.Fields {
			mf := metaField{Name: f.Name, Type: strings.ToLower(f.Type)}
			if len(f.Options) > 0 {
				mf.Options = make(map[string]string, len(f.Options))
				for k, v := range f.Options {
					mf.Options[k] = v
				}
			}
			if f.IsRef() {
				mf.Ref = f.RefTarget
				mf.OnDelete = f.OnDelete()
			}
			fields = append(fields, mf)
		}
		c.JSON(http.StatusOK, metaEntity{Module: schema.Module, Entity: schema.Name, Fields: fields})
	}
}

// lookupEntity matches by name, ignoring case.
func lookupEntity(schemas map[string]*dsl.Entity, name string) *dsl.Entity {
	if e, ok := schemas[name]; ok {
		return e
	}
	for _, e := range schemas {
		if strings.EqualFold(e.Name, name) {
			return e
		}
	}
	return nil
}
