package handlers

// Client-facing error strings, keyed by message id then locale. The locale
// middleware guarantees one of the supported locales; English is the
// fallback for anything else.
var messages = map[string]map[string]string{
	"prompt_required": {
		"en": "a prompt or a colorHex value is required",
		"nl": "een prompt of een colorHex-waarde is verplicht",
	},
	"image_required": {
		"en": "an image file is required",
		"nl": "een afbeeldingsbestand is verplicht",
	},
	"unsupported_image": {
		"en": "unsupported image type: expected png, jpeg or webp",
		"nl": "niet-ondersteund afbeeldingstype: png, jpeg of webp verwacht",
	},
	"invalid_form": {
		"en": "invalid multipart form",
		"nl": "ongeldig multipart-formulier",
	},
	"not_found": {
		"en": "image not found",
		"nl": "afbeelding niet gevonden",
	},
	"queue_full": {
		"en": "the server is processing too many images, try again shortly",
		"nl": "de server verwerkt te veel afbeeldingen, probeer het zo opnieuw",
	},
	"internal": {
		"en": "internal server error",
		"nl": "interne serverfout",
	},
}

func message(id, locale string) string {
	byLocale, ok := messages[id]
	if !ok {
		return id
	}
	if msg, ok := byLocale[locale]; ok {
		return msg
	}
	return byLocale["en"]
}
