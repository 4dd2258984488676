// Package mapping populates store objects from decoded JSON.
//
// A Registry holds one EntityMapping per entity: ordered rules that move a
// JSON value onto an attribute or relationship, an optional identifier rule
// used to find existing objects, and an optional order key. A Mapper applies
// the rules to one object. A Manager upserts objects of an entity from a JSON
// object or array, recursing into nested managers for relationships.
//
// Mappings are usually registered once at startup:
//
//	mapping.MustRegister(mapping.EntityMapping{
//	    Entity:     "Article",
//	    Identifier: &mapping.Rule{Attribute: "articleID", Key: "id"},
//	    Rules: []mapping.Rule{
//	        {Attribute: "title"},
//	        {Attribute: "publishedAt", Layout: "2006-01-02"},
//	        {Attribute: "author"},
//	    },
//	})
package mapping
