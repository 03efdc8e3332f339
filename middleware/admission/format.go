// utilitário pequeno para formatação rápida/consistente de valores em headers.
// Evita puxar fmt (mais pesado e genérico) só para formatação simples.

package admission

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatUnix(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }
