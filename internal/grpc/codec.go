package grpc

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"atelier/internal/models"
)

// Messages on the directory service are structpb.Struct values so no
// generated stubs are needed:
//
//	request:  {"ids": ["u1", "u2"]}
//	response: {"profiles": {"u1": {"name": "...", "role": "model", ...}}}

func encodeLookupRequest(ids []string) (*structpb.Struct, error) {
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, id)
	}
	return structpb.NewStruct(map[string]any{"ids": list})
}

func decodeLookupRequest(req *structpb.Struct) ([]string, error) {
	raw, ok := req.GetFields()["ids"]
	if !ok {
		return nil, nil
	}
	list := raw.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("ids must be a list")
	}
	ids := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("ids must contain strings")
		}
		ids = append(ids, s.StringValue)
	}
	return ids, nil
}

func encodeLookupResponse(found map[string]models.Profile) (*structpb.Struct, error) {
	profiles := make(map[string]any, len(found))
	for id, p := range found {
		profiles[id] = map[string]any{
			"name":       p.Name,
			"role":       string(p.Role),
			"avatar_url": p.AvatarURL,
			"location":   p.Location,
		}
	}
	return structpb.NewStruct(map[string]any{"profiles": profiles})
}

func decodeLookupResponse(resp *structpb.Struct) map[string]models.Profile {
	out := make(map[string]models.Profile)
	profiles := resp.GetFields()["profiles"].GetStructValue()
	for id, v := range profiles.GetFields() {
		fields := v.GetStructValue().GetFields()
		role, _ := models.ParseRole(fields["role"].GetStringValue())
		out[id] = models.Profile{
			ID:        id,
			Name:      fields["name"].GetStringValue(),
			Role:      role,
			AvatarURL: fields["avatar_url"].GetStringValue(),
			Location:  fields["location"].GetStringValue(),
		}
	}
	return out
}
