package expr

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

type lib struct{}

func (lib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		ext.Strings(),
		ext.Lists(),

		// `digits` keeps only the decimal digits of a string.
		// Example: digits(vars.SSN) == "123456789".
		cel.Function("digits",
			cel.Overload("digits_string", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(s ref.Val) ref.Val {
					str, ok := s.(types.String).Value().(string)
					if !ok {
						return types.NewErr("digits: invalid string value")
					}

					return types.String(strings.Map(func(r rune) rune {
						if r >= '0' && r <= '9' {
							return r
						}

						return -1
					}, str))
				}),
			),
		),

		// `words` splits a string on whitespace.
		// Example: words(vars.FULL_NAME)[0].
		cel.Function("words",
			cel.Overload("words_string", []*cel.Type{cel.StringType}, cel.ListType(cel.StringType),
				cel.UnaryBinding(func(s ref.Val) ref.Val {
					str, ok := s.(types.String).Value().(string)
					if !ok {
						return types.NewErr("words: invalid string value")
					}

					return types.NewStringList(types.DefaultTypeAdapter, strings.FieldsFunc(str, unicode.IsSpace))
				}),
			),
		),

		// `coalesce` returns the first non-empty string in a list, or "".
		// Example: coalesce([lookup(vars, "SSN", ""), lookup(vars, "EIN", "")]).
		cel.Function("coalesce",
			cel.Overload("coalesce_list", []*cel.Type{cel.ListType(cel.StringType)}, cel.StringType,
				cel.UnaryBinding(func(list ref.Val) ref.Val {
					lister, ok := list.(traits.Lister)
					if !ok {
						return types.NewErr("coalesce: invalid list")
					}

					size, ok := lister.Size().(types.Int)
					if !ok {
						return types.NewErr("coalesce: invalid list size")
					}

					for i := range size {
						str, ok := lister.Get(i).Value().(string)
						if !ok {
							return types.NewErr("coalesce: invalid string value in list")
						}

						if str != "" {
							return types.String(str)
						}
					}

					return types.String("")
				}),
			),
		),

		// `lookup` returns the value of a key, or the fallback when the key is
		// missing or empty.
		// Example: lookup(vars, "TAX_YEAR", "2024").
		cel.Function("lookup",
			cel.Overload("lookup_map_string_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.StringType), cel.StringType, cel.StringType},
				cel.StringType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					mapper, ok := args[0].(traits.Mapper)
					if !ok {
						return types.NewErr("lookup: invalid map")
					}

					v, found := mapper.Find(args[1])
					if found {
						if str, ok := v.Value().(string); ok && str != "" {
							return types.String(str)
						}
					}

					fallback, ok := args[2].(types.String)
					if !ok {
						return types.NewErr("lookup: invalid fallback value")
					}

					return fallback
				}),
			),
		),

		// `pathBase` returns the last element of the path.
		// Example: pathBase(vars.document_id).
		cel.Function("pathBase",
			cel.Overload("path_base", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(path ref.Val) ref.Val {
					pathValue, ok := path.(types.String).Value().(string)
					if !ok {
						return types.NewErr("pathBase: invalid string value")
					}

					return types.String(filepath.Base(pathValue))
				}),
			),
		),

		// `pathExt` returns the file name extension of the path.
		cel.Function("pathExt",
			cel.Overload("path_ext", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(path ref.Val) ref.Val {
					pathValue, ok := path.(types.String).Value().(string)
					if !ok {
						return types.NewErr("pathExt: invalid string value")
					}

					return types.String(filepath.Ext(pathValue))
				}),
			),
		),

		// `pathStem` returns the last element of the path without its
		// extension.
		// Example: pathStem("in/scan_01.pdf") == "scan_01".
		cel.Function("pathStem",
			cel.Overload("path_stem", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(path ref.Val) ref.Val {
					pathValue, ok := path.(types.String).Value().(string)
					if !ok {
						return types.NewErr("pathStem: invalid string value")
					}

					base := filepath.Base(pathValue)

					return types.String(strings.TrimSuffix(base, filepath.Ext(base)))
				}),
			),
		),
	}
}

func (lib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}
