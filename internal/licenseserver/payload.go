package licenseserver

import "net/http"

// Payload helpers shared with the lifecycle orchestrator. The remote
// authority wraps every response in the same envelope: a numeric status, an
// error flag, an optional errors map keyed by field, and a data object.

// PayloadOK reports whether a decoded response carries a success status.
func PayloadOK(decoded map[string]interface{}) bool {
	return toEpochInt(decoded["status"]) == http.StatusOK && !isTrue(decoded["error"])
}

// PayloadError reports whether a decoded response flags a failure, either
// through the error flag or a 500 status.
func PayloadError(decoded map[string]interface{}) bool {
	return isTrue(decoded["error"]) || toEpochInt(decoded["status"]) == http.StatusInternalServerError
}

// PayloadMessages flattens the per-field errors map of a response into a
// list of human-readable messages.
func PayloadMessages(decoded map[string]interface{}) []string {
	return errorMessages(decoded["errors"])
}

// PayloadData returns the nested data object of a response, or nil.
func PayloadData(decoded map[string]interface{}) map[string]interface{} {
	data, _ := decoded["data"].(map[string]interface{})
	return data
}

// PayloadMessage returns the top-level message of a response, or "".
func PayloadMessage(decoded map[string]interface{}) string {
	msg, _ := decoded["message"].(string)
	return msg
}
