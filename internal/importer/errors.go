package importer

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies an import failure. Expected business outcomes are part of
// this closed set; anything else is a wrapped infrastructure failure.
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindMissingAreaTag
	KindUnclassifiedTags
	KindPreviewExpired
	KindSessionMismatch
	KindTransactionFailed
)

// maxListed caps identifier lists inside operator messages so a thousand bad
// rows still produce a readable error.
const maxListed = 10

// ImportError carries an operator-facing Spanish message naming the concrete
// offending identifiers, plus the machine-readable kind and wrapped cause.
type ImportError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ImportError) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind through sentinel values.
func (e *ImportError) Is(target error) bool {
	t, ok := target.(*ImportError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrPreviewExpired = &ImportError{Kind: KindPreviewExpired, Msg: "la vista previa expiró o no existe; vuelva a cargar los archivos"}
)

func errMissingAreaTags(questions []int) *ImportError {
	return &ImportError{
		Kind: KindMissingAreaTag,
		Msg: fmt.Sprintf("las preguntas %s no tienen etiqueta de área reconocida; corrija el archivo de claves antes de importar",
			capIntList(questions)),
	}
}

func errUnclassifiedTags(tagNames []string) *ImportError {
	return &ImportError{
		Kind: KindUnclassifiedTags,
		Msg: fmt.Sprintf("las etiquetas %s no tienen clasificación; asigne área y tipo antes de confirmar la importación",
			capStrList(tagNames)),
	}
}

func errSessionMismatch() *ImportError {
	return &ImportError{
		Kind: KindSessionMismatch,
		Msg:  "el token de vista previa pertenece a otra sesión de examen",
	}
}

func errInvalidInput(cause error) *ImportError {
	return &ImportError{Kind: KindInvalidInput, Msg: "archivo de origen inválido", Err: cause}
}

func errTransaction(cause error) *ImportError {
	return &ImportError{Kind: KindTransactionFailed, Msg: "la importación falló y fue revertida por completo", Err: cause}
}

func capIntList(nums []int) string {
	parts := make([]string, 0, len(nums))
	for _, n := range nums {
		parts = append(parts, strconv.Itoa(n))
	}
	return capStrList(parts)
}

func capStrList(items []string) string {
	if len(items) <= maxListed {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s y %d más", strings.Join(items[:maxListed], ", "), len(items)-maxListed)
}
