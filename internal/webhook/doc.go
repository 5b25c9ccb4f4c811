// Package webhook receives QIWI webhook deliveries over HTTP, verifies their
// HMAC-SHA256 signatures and hands them to a dispatcher.
//
// # Security Model
//
//   - Senders are restricted to QIWI's published networks (configurable)
//   - Signatures are HMAC-SHA256 over a fixed canonical string, keyed with a
//     base64-decoded secret, compared with crypto/subtle
//   - Body size limits are enforced before parsing
//   - Rejections carry a fixed message; details go to the log only
//   - Request logging excludes payloads and secrets
//
// # Request Flow
//
//  1. POST arrives at the transaction or bill path
//  2. Remote address checked against the allow-list (401 if outside)
//  3. Body size checked (413 if too large)
//  4. Payload decoded and validated (400 if invalid)
//  5. Signature verified, test deliveries excepted (400 if wrong)
//  6. Delivery key claimed; a retransmission is acknowledged as is
//  7. Event dispatched; handler failures are logged, never returned
//  8. 200 "ok"
//
// Transaction signatures travel in the payload's hash field; bill
// signatures in the X-Api-Signature-SHA256 header.
//
// # Example Usage
//
//	cfg := webhook.Config{
//		Listen:         "0.0.0.0:8080",
//		TransactionKey: os.Getenv("QIWI_WEBHOOK_KEY"),
//		BillSecret:     os.Getenv("QIWI_P2P_SECRET"),
//	}
//	server := webhook.New(cfg, dispatcher, logger, webhook.WithMetrics(m))
//	if err := server.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package webhook
