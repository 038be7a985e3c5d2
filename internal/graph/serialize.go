package graph

// ToDict serializes the link set to the links-document shape (spec §6):
// {"links": [...]} where each process link is
// {process_id, process_type, inputs:[{input_type,input_id}], outputs:[...],
// protocols:[...]} and each supplementary-file link is
// {link_type:"supplementary_file_link", entity:{entity_type,entity_id},
// files:[{file_type,file_id}]}. The Staging Client stamps describedBy,
// schema_version, and schema_type on top of this.
func (ls *LinkSet) ToDict() map[string]any {
	links := make([]any, 0, ls.Len())
	for _, l := range ls.ProcessLinks() {
		links = append(links, map[string]any{
			"process_id":   l.ProcessUUID,
			"process_type": l.ProcessType,
			"inputs":       entitiesToDict(l.Inputs, "input_type", "input_id"),
			"outputs":      entitiesToDict(l.Outputs, "output_type", "output_id"),
			"protocols":    entitiesToDict(l.Protocols, "protocol_type", "protocol_id"),
		})
	}
	for _, l := range ls.SupplementaryLinks() {
		links = append(links, map[string]any{
			"link_type": "supplementary_file_link",
			"entity": map[string]any{
				"entity_type": l.Entity.Type,
				"entity_id":   l.Entity.UUID,
			},
			"files": entitiesToDict(l.Files, "file_type", "file_id"),
		})
	}
	return map[string]any{"links": links}
}

func entitiesToDict(entities []Entity, typeKey, idKey string) []any {
	out := make([]any, 0, len(entities))
	for _, e := range entities {
		out = append(out, map[string]any{typeKey: e.Type, idKey: e.UUID})
	}
	return out
}
