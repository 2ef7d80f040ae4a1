package core

// # Error Codes Reference
//
// Failed steps are reported with a code operators can quote when asking for
// help. Codes are grouped by category:
//
// # Authentication (AUTH001)
//
//	AUTH001 - Login rejected by the ERP
//	          Action: Check ODOO_DB, ODOO_USER and ODOO_PASSWORD
//	          Patterns: "authentication failed"
//
// # Remote Calls (RPC001-RPC099)
//
//	RPC001 - Several records match a lookup under the "error" match policy
//	         Action: Remove the duplicates or run with --match-policy=first
//	         Patterns: "ambiguous lookup"
//
//	RPC002 - Nothing left to send after cleaning a payload
//	         Patterns: "empty value mapping"
//
//	RPC003 - External reference is not of the form module.name
//	         Patterns: "invalid external reference"
//
//	RPC004 - The ERP refused the values (constraint, access or missing record)
//	         Patterns: "validationerror", "accesserror", "missingerror", "usererror"
//
//	RPC005 - Any other failed remote call
//	         Patterns: "failed after"
//
// # Network (NET001-NET099)
//
//	NET001 - connection refused
//	NET002 - connection reset
//	NET003 - host not found ("no such host")
//	NET004 - timeout ("context deadline exceeded", "timeout")
//	NET005 - ERP endpoint answered with a server error ("http 5")
//
// # Data Files (CSV001-CSV099)
//
//	CSV001 - data file not found
//	CSV002 - missing required column
//	CSV003 - invalid csv
//	CSV004 - empty file
//	CSV005 - unsupported encoding or delimiter
//
// # Configuration (CFG001-CFG099)
//
//	CFG001 - environment validation failed ("validation failed")
//	CFG002 - no company record found
//
// # Run (RUN001)
//
//	RUN001 - interrupted ("context canceled")
//
// # Default (ERR000)
//
// Fallback when no pattern matches. Check the log for the technical error.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so network patterns come before the generic RPC005.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What went wrong
	Action  string // What the operator can do about it
	Code    string // Support reference, e.g. "RPC001"
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgRemoteRejected = UserMessage{
		Message: "The ERP rejected the values",
		Action:  "Check the row named in the log against the ERP's constraints",
		Code:    "RPC004",
	}
	msgTimeout = UserMessage{
		Message: "The ERP did not answer in time",
		Action:  "Raise ODOO_TIMEOUT or try again later",
		Code:    "NET004",
	}
	msgUnsupportedInput = UserMessage{
		Message: "The data file format is not supported",
		Action:  "Set PROVISION_CSV_ENCODING or the delimiter in the defaults file",
		Code:    "CSV005",
	}
)

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. Order matters: specific patterns first.
var errorPatterns = []errorPattern{
	// Authentication
	{
		pattern: "authentication failed",
		msg: UserMessage{
			Message: "The ERP rejected the login",
			Action:  "Check ODOO_DB, ODOO_USER and ODOO_PASSWORD",
			Code:    "AUTH001",
		},
	},

	// Reconciliation
	{
		pattern: "ambiguous lookup",
		msg: UserMessage{
			Message: "Several ERP records match the same key",
			Action:  "Remove the duplicates in the ERP or run with --match-policy=first",
			Code:    "RPC001",
		},
	},
	{
		pattern: "empty value mapping",
		msg: UserMessage{
			Message: "A record had no values to send",
			Action:  "Check that the data file has values for the mapped columns",
			Code:    "RPC002",
		},
	},
	{
		pattern: "invalid external reference",
		msg: UserMessage{
			Message: "An external reference is malformed",
			Action:  "Use the form module.name in the defaults file",
			Code:    "RPC003",
		},
	},

	// Network
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the ERP",
			Action:  "Check ODOO_URL and that the server is running",
			Code:    "NET001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The ERP connection was interrupted",
			Action:  "Run again; finished records are not duplicated",
			Code:    "NET002",
		},
	},
	{
		pattern: "no such host",
		msg: UserMessage{
			Message: "The ERP host name cannot be resolved",
			Action:  "Check ODOO_URL",
			Code:    "NET003",
		},
	},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},
	{
		pattern: "http 5",
		msg: UserMessage{
			Message: "The ERP endpoint answered with a server error",
			Action:  "Check the ERP server log and run again",
			Code:    "NET005",
		},
	},

	// Remote rejections
	{pattern: "validationerror", msg: msgRemoteRejected},
	{pattern: "accesserror", msg: msgRemoteRejected},
	{pattern: "missingerror", msg: msgRemoteRejected},
	{pattern: "usererror", msg: msgRemoteRejected},
	{
		pattern: "failed after",
		msg: UserMessage{
			Message: "A call to the ERP failed",
			Action:  "See the log for the collection and remote message",
			Code:    "RPC005",
		},
	},

	// Data files
	{
		pattern: "data file not found",
		msg: UserMessage{
			Message: "The data file is missing",
			Action:  "Place the file in PROVISION_DATA_DIR or pass --data-dir",
			Code:    "CSV001",
		},
	},
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "A required column is missing from the data file",
			Action:  "Compare the header line with the column names in the log",
			Code:    "CSV002",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "The data file is not valid CSV",
			Action:  "Check quoting and the delimiter",
			Code:    "CSV003",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The data file is empty",
			Action:  "Provide a header line and at least one data row",
			Code:    "CSV004",
		},
	},
	{pattern: "unsupported encoding", msg: msgUnsupportedInput},
	{pattern: "unsupported delimiter", msg: msgUnsupportedInput},

	// Configuration
	{
		pattern: "validation failed",
		msg: UserMessage{
			Message: "The configuration is invalid",
			Action:  "Fix the environment variables listed in the log",
			Code:    "CFG001",
		},
	},
	{
		pattern: "no company record found",
		msg: UserMessage{
			Message: "The ERP has no company",
			Action:  "Create the company in the ERP before provisioning routings",
			Code:    "CFG002",
		},
	},

	// Run
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The run was interrupted",
			Action:  "Run again; finished records are not duplicated",
			Code:    "RUN001",
		},
	},
}

// defaultMessage is returned when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the log for the technical error",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. It returns
// an empty UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
