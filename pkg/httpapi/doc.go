// Package httpapi holds the JSON conventions shared by the billing HTTP handlers:
// the response envelope, HTTP errors with stable keys, and request decoding with
// go-playground/validator.
//
//	var req CheckoutRequest
//	if err := httpapi.DecodeJSON(r, &req); err != nil {
//		httpapi.Error(w, err)
//		return
//	}
//	httpapi.JSON(w, http.StatusOK, result)
//
// Error responses look like:
//
//	{"error": {"code": "validation_error", "message": "...", "details": {"plan": ["is required"]}}}
package httpapi
