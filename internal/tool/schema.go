package tool

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func object(props map[string]any, required ...string) JSONSchema {
	if required == nil {
		required = []string{}
	}
	return JSONSchema{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
