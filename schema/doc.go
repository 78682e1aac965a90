// Package schema generates JSON Schema for method parameter structs and
// validates raw params against it.
//
// A parameter struct binds both positional and named params. Fields are
// taken in declaration order; the json tag names them and omitempty marks
// them optional:
//
//	type AddParams struct {
//	    A     int    `json:"a"`
//	    B     int    `json:"b" jsonschema:"description=Second operand,minimum=0"`
//	    Label string `json:"label,omitempty" jsonschema:"enum=sum|total"`
//	}
//
// The generated schema lists properties in propertyOrder, which is also the
// positional order. ValidateParams accepts either params form.
package schema
