// Package moderation masks blocked words in visitor messages. Matching is
// case-insensitive, ignores punctuation between letters and undoes common
// digit substitutions, so "s.c.4.m" is caught by "scam".
package moderation
