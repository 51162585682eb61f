package common

import "os"

// Windows has no umask
var DEFAULT_FILE_PERM os.FileMode = 0644
