// Package services holds the business-logic layer between the HTTP
// transport and the license lifecycle engine. Services accept contexts,
// return response structs, and record operation metrics.
package services
