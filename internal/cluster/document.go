package cluster

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigDocument es la configuración aplanada: dotted key path -> valor escalar o lista.
type ConfigDocument map[string]any

// Keys devuelve las claves ordenadas.
func (d ConfigDocument) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge copia las entradas de other sobre d (other gana).
func (d ConfigDocument) Merge(other ConfigDocument) ConfigDocument {
	out := make(ConfigDocument, len(d)+len(other))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Flatten aplana recursivamente una estructura anidada usando "." como separador.
// Soporta los mapas que producen encoding/json (map[string]any) y yaml.v3
// (map[string]any o map[any]any).
func Flatten(nested map[string]any) ConfigDocument {
	out := ConfigDocument{}
	flattenInto(out, "", nested)
	return out
}

func flattenInto(out ConfigDocument, prefix string, v any) {
	switch m := v.(type) {
	case map[string]any:
		if len(m) == 0 && prefix != "" {
			out[prefix] = m
			return
		}
		for k, child := range m {
			flattenInto(out, joinKey(prefix, k), child)
		}
	case map[any]any:
		if len(m) == 0 && prefix != "" {
			out[prefix] = m
			return
		}
		for k, child := range m {
			flattenInto(out, joinKey(prefix, fmt.Sprint(k)), child)
		}
	default:
		out[prefix] = v
	}
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

// CoerceValues prepara un documento para el agente: los strings "true"/"false"
// (case-insensitive) pasan a bool y los strings con coma pasan a lista.
//
// La conversión es con pérdida: un valor que legítimamente contiene comas o la
// palabra "true" no puede transmitirse como string.
func CoerceValues(doc ConfigDocument) ConfigDocument {
	out := make(ConfigDocument, len(doc))
	for k, v := range doc {
		out[k] = coerce(v)
	}
	return out
}

func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true
	case "false":
		return false
	}
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		list := make([]string, 0, len(parts))
		for _, p := range parts {
			list = append(list, strings.TrimSpace(p))
		}
		return list
	}
	return s
}
