package scratchomised

import "strings"

// LightClass is the peer class carried by controllable lights.
const LightClass = "com.eteks.sweethome3d.model.HomeLight"

// Placeholder texts shown when a menu has nothing to offer.
const (
	NoObjectsText  = "[No objects]"
	NoLightsText   = "[No lights]"
	NoSwitchesText = "[No switches]"
)

// switchWords mark an object as a switch by name.
var switchWords = []string{"switch", "interrupteur"}

// MenuItem is one selectable entry: Text is shown, Value is the object id.
type MenuItem struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Menu is a list of entries. A placeholder menu holds one item with an
// empty Value and is never the same thing as an empty menu.
type Menu []MenuItem

// Placeholder reports whether m is the "nothing matches" menu.
func (m Menu) Placeholder() bool {
	return len(m) == 1 && m[0].Value == ""
}

func placeholder(text string) Menu {
	return Menu{{Text: text}}
}

func menuOf(objects []Object, empty string) Menu {
	m := make(Menu, 0, len(objects))
	for _, o := range objects {
		if o.Name == "" {
			continue
		}
		m = append(m, MenuItem{Text: o.Name, Value: o.ID})
	}
	if len(m) == 0 {
		return placeholder(empty)
	}
	return m
}

// ObjectsMenu lists every named object.
func (s *ObjectStore) ObjectsMenu() Menu {
	return menuOf(s.All(), NoObjectsText)
}

// ClassMenu lists named objects tagged with class.
func (s *ObjectStore) ClassMenu(class string) Menu {
	return menuOf(s.ByClass(class), NoObjectsText)
}

// LightsMenu lists the lights.
func (s *ObjectStore) LightsMenu() Menu {
	return menuOf(s.ByClass(LightClass), NoLightsText)
}

// SwitchesMenu lists objects whose name looks like a switch.
func (s *ObjectStore) SwitchesMenu() Menu {
	return menuOf(s.filter(func(o Object) bool {
		name := strings.ToLower(o.Name)
		for _, w := range switchWords {
			if strings.Contains(name, w) {
				return true
			}
		}
		return false
	}), NoSwitchesText)
}
