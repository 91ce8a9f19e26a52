package seed

// Catalog is a seed file: users with their restaurants and menus.
type Catalog struct {
	Name  string `yaml:"name"`
	Users []User `yaml:"users"`
}

type User struct {
	Name        string       `yaml:"name"`
	Email       string       `yaml:"email"`
	Password    string       `yaml:"password"`
	Restaurants []Restaurant `yaml:"restaurants,omitempty"`
}

type Restaurant struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Menu        []MenuItem `yaml:"menu,omitempty"`
}

type MenuItem struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Price       float64 `yaml:"price"`
}
