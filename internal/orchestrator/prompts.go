package orchestrator

import (
	"fmt"
	"strings"
)

func approvedPrompt(name, content string) string {
	return fmt.Sprintf(`You are the AI Employee. The following action has been APPROVED by a human:

File: %s

Content:
%s

Execute this approved action now. Do not move or edit this file; the orchestrator records the
outcome and moves it to /Done/ once you finish successfully.`, name, content)
}

func needsActionPrompt(names []string) string {
	var list strings.Builder
	for _, name := range names {
		list.WriteString("- " + name + "\n")
	}
	return fmt.Sprintf(`You are the AI Employee. Process the following pending items in the Needs_Action folder:

%s
For each item:
1. Read the file content
2. Understand what action is needed
3. If the action requires approval, move the file to /Pending_Approval/
4. If the action can be done directly, do it and move the file to /Done/
5. If you need more information, update the file with questions

Reference Company_Handbook.md for rules and Business_Goals.md for priorities.`, list.String())
}
