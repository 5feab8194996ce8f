package utils

// Minimal server-side i18n for fixed keys.
// UI strings should live in the frontend; server provides only essentials.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":          "ok",
		"error.invalid":      "The request is invalid.",
		"error.forbidden":    "You do not have access to this resource.",
		"error.not_found":    "The requested resource was not found.",
		"error.conflict":     "The resource was changed by another request.",
		"error.unauthorized": "Please sign in again.",
		"error.internal":     "Something went wrong on our side.",
	},
	"zh": {
		"health.ok":          "好的",
		"error.invalid":      "请求无效。",
		"error.forbidden":    "您无权访问此资源。",
		"error.not_found":    "未找到请求的资源。",
		"error.conflict":     "资源已被其他请求修改。",
		"error.unauthorized": "请重新登录。",
		"error.internal":     "服务器出现问题。",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}
