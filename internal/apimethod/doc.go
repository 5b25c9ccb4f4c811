// Package apimethod describes remote API calls declaratively and renders them
// into concrete HTTP requests.
//
// A Descriptor is defined once per remote method as a package-level value. Its
// query and body are schema trees built from four node kinds:
//
//   - Literal: copied verbatim
//   - Placeholder: filled from caller-supplied Values at build time
//   - Object: nested mapping of field name to node
//   - List: ordered sequence of nodes
//
// A Placeholder is looked up by its Name, or by its dotted field path when no
// name is set. Unresolved placeholders fall back to a default factory (invoked
// on every build), then a static default, then Absent when optional. Anything
// else is a SchemaBuildError naming the missing field.
//
// Fields that resolve to Absent are dropped from the rendered request instead
// of being serialized as null.
//
// # Example
//
//	var buyCard = &apimethod.Descriptor{
//		Name:   "wallet.buy_card",
//		Method: http.MethodPost,
//		URL:    "https://edge.qiwi.com/sinap/api/v2/terms/32064/payments",
//		Body: apimethod.Object{
//			"id": apimethod.Runtime().WithFactory(apimethod.UnixMilliID),
//			"sum": apimethod.Object{
//				"amount":   apimethod.Runtime().WithDefault(99),
//				"currency": apimethod.Lit("643"),
//			},
//		},
//	}
//
//	req, err := apimethod.Build(buyCard, apimethod.Values{"sum.amount": 150})
package apimethod
