// Package conversation implements parley's messaging core.
//
// # Service
//
//	svc := conversation.New(messageStore, hub, "operator", logger)
//
// Operations:
//
//   - Send(ctx, req): validate, authorize, persist, then publish
//   - History(ctx, a, b): both directions of one exchange, oldest first
//   - ListConversations(ctx, operatorID): per-counterpart summaries, newest first
//   - MarkRead(ctx, counterpartID): clear the operator's unread count for one counterpart
//
// # Send Pipeline
//
// A message is durable before anyone is told about it:
//
//  1. Validate the request (content, participants, length)
//  2. Reject operator-identity senders that carry no operator session
//  3. Append to the store, detached from caller cancellation
//  4. Publish "new-message" on the conversation channel
//  5. Publish "new-message-notification" on the receiver's notification channel
//
// Publish failures are logged and never fail the send; subscribers that
// missed a push recover through History.
//
// # Errors
//
// Failures are classified by ErrValidation, ErrUnauthorized, ErrUnavailable
// and ErrInternal. Use errors.Is; the gateway maps them to HTTP statuses.
package conversation
