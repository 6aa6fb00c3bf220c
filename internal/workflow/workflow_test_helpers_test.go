package workflow

import (
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/tenantvault/internal/activity"
)

// registerActivities registers activity structs with the test workflow
// environment so that parameter and return types can be deserialized
// correctly. All activities are mocked via OnActivity.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.Backups{})
	env.RegisterActivity(&activity.Restores{})
	env.RegisterActivity(&activity.DR{})
}
