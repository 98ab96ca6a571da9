package model

import "fmt"

// PRKey formats the composite remote identity of a pull request.
func PRKey(repoFullName string, number int) string {
	return fmt.Sprintf("%s#%d", repoFullName, number)
}
