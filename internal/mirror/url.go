package mirror

import (
	"fmt"
	"strconv"
	"strings"
)

// ShardPath computes the canonical mirror directory for a book id: all the
// id's digits but the last, one directory level per digit, then the id
// itself. 832 lives under 8/3/832. Single-digit ids share the 0 directory.
func ShardPath(id int) string {
	s := strconv.Itoa(id)
	if id < 10 {
		return "0/" + s
	}
	return strings.Join(strings.Split(s[:len(s)-1], ""), "/") + "/" + s
}

// BookURL joins a mirror base with the path to a book file. Legacy file
// names carry their own directory component and bypass sharding.
func BookURL(base string, id int, fileName string) string {
	if strings.Contains(fileName, "/") {
		return fmt.Sprintf("%s/%s", base, fileName)
	}
	return fmt.Sprintf("%s/%s/%s", base, ShardPath(id), fileName)
}
