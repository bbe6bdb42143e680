package tgui

import "strings"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// It applies to the full "namespace:action:payload" string.
const MaxCallbackDataLen = 64

// tokenPrefix marks payloads that live in a TokenStore.
const tokenPrefix = "~"

// Data formats inline callback data as "namespace:action:payload".
// Payload is kept as-is.
func Data(ns, action, payload string) string {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	if payload == "" {
		return ns + ":" + action
	}
	return ns + ":" + action + ":" + payload
}

// ParseData splits callback data into its parts. The payload may contain ':'.
func ParseData(data string) (ns, action, payload string) {
	parts := strings.SplitN(data, ":", 3)
	ns = parts[0]
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		payload = parts[2]
	}
	return ns, action, payload
}

// DataOrToken is Data, except that a payload which would overflow
// MaxCallbackDataLen is parked in store and replaced by a short token.
// Payloads that look like tokens are always parked so they cannot be
// confused with one.
func DataOrToken(store *TokenStore, ns, action, payload string) string {
	d := Data(ns, action, payload)
	if store == nil {
		return d
	}
	if len(d) <= MaxCallbackDataLen && !strings.HasPrefix(payload, tokenPrefix) {
		return d
	}
	return Data(ns, action, store.PutString(payload))
}

// ResolvePayload reverses DataOrToken. ok is false for an expired or unknown
// token.
func ResolvePayload(store *TokenStore, payload string) (string, bool) {
	if !strings.HasPrefix(payload, tokenPrefix) {
		return payload, true
	}
	if store == nil {
		return "", false
	}
	return store.GetString(payload)
}
