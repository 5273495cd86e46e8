package records

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

// ApplyMergePatch applies an RFC 7386 style merge patch to a record
// document. A null value removes the key, an object merges recursively,
// and anything else replaces the key. The tenant tag may not appear in
// the patch at all: setting it, even to its current value, and removing
// it are both refused.
func ApplyMergePatch(doc, patch []byte) ([]byte, apperrors.Error) {
	if !gjson.ValidBytes(patch) {
		return nil, ErrInvalidPatch
	}
	parsed := gjson.ParseBytes(patch)
	if !parsed.IsObject() {
		return nil, ErrInvalidPatch.Msg("patch must be a JSON object")
	}

	if parsed.Get(guardcommon.TenantTagField).Exists() {
		return nil, ErrTenantTagImmutable
	}

	return mergeInto(doc, "", parsed)
}

func mergeInto(doc []byte, prefix string, patch gjson.Result) ([]byte, apperrors.Error) {
	var apperr apperrors.Error
	patch.ForEach(func(key, value gjson.Result) bool {
		path := key.String()
		if prefix != "" {
			path = prefix + "." + path
		}

		var err error
		switch {
		case value.Type == gjson.Null:
			doc, err = sjson.DeleteBytes(doc, path)
		case value.IsObject():
			// Recurse only when the target is an object too; otherwise
			// the patch object replaces the existing value wholesale.
			if gjson.GetBytes(doc, path).IsObject() {
				doc, apperr = mergeInto(doc, path, value)
			} else {
				doc, err = sjson.SetRawBytes(doc, path, []byte(value.Raw))
			}
		default:
			doc, err = sjson.SetRawBytes(doc, path, []byte(value.Raw))
		}
		if err != nil {
			apperr = ErrInvalidPatch.Err(err)
		}
		return apperr == nil
	})
	if apperr != nil {
		return nil, apperr
	}
	return doc, nil
}
