// Package notarize submits installer packages to Apple's notarization
// service, waits for a verdict and staples the resulting ticket.
//
// All service access goes through xcrun altool and xcrun stapler. The
// caller resolves the password; it is exported to the tool environment
// and passed as @env:NAME so it never appears in a command line or a log.
//
//	client := notarize.NewClient(runner.NewExec(), notarize.ClientConfig{
//		BundleID:    "com.etcconnect.pkg.RDMnet",
//		Username:    user,
//		PasswordEnv: "RDMNET_APPLE_DEVELOPER_ID_PW",
//		Password:    password,
//	})
//	id, err := client.Submit(ctx, "RDMnet.pkg")
//	...
//	attempts, err := notarize.NewPoller(client, notarize.DefaultPollerConfig()).Wait(ctx, id)
//
// Parsing of tool output is kept in pure functions (ParseRequestID,
// ParseStatus, StapleConfirmed) that accept both free text and the plist
// document printed with --output-format xml.
package notarize
